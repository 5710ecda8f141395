// ABOUTME: Tests for the tool registry including collision detection and lookup.
// ABOUTME: Validates discovery ordering and handler requirements per kind.

package tools

import (
	"context"
	"errors"
	"testing"
)

func syncTool(id, name string) Tool {
	return Tool{
		ID:          id,
		Name:        name,
		Description: name + " description",
		Kind:        KindSync,
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return "", nil
		},
	}
}

func streamingTool(id, name string) Tool {
	return Tool{
		ID:          id,
		Name:        name,
		Description: name + " description",
		Kind:        KindStreaming,
		Stream: func(ctx context.Context, args map[string]any, sink EventSink) (string, error) {
			return "", nil
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("registers tools successfully", func(t *testing.T) {
		registry, err := New([]Tool{
			syncTool("tool-a", "tool_a"),
			streamingTool("tool-b", "tool_b"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if registry.Len() != 2 {
			t.Errorf("Len() = %d, want 2", registry.Len())
		}
	})

	t.Run("returns error for duplicate id", func(t *testing.T) {
		_, err := New([]Tool{
			syncTool("tool-a", "tool_a"),
			syncTool("tool-a", "tool_other"),
		})
		if !errors.Is(err, ErrDuplicateToolID) {
			t.Errorf("error = %v, want ErrDuplicateToolID", err)
		}
	})

	t.Run("returns error for duplicate name", func(t *testing.T) {
		_, err := New([]Tool{
			syncTool("tool-a", "tool_a"),
			syncTool("tool-b", "tool_a"),
		})
		if !errors.Is(err, ErrDuplicateToolName) {
			t.Errorf("error = %v, want ErrDuplicateToolName", err)
		}
	})

	t.Run("returns error for sync tool without Run", func(t *testing.T) {
		_, err := New([]Tool{{ID: "t", Name: "t", Kind: KindSync}})
		if !errors.Is(err, ErrMissingHandler) {
			t.Errorf("error = %v, want ErrMissingHandler", err)
		}
	})

	t.Run("returns error for streaming tool without Stream", func(t *testing.T) {
		_, err := New([]Tool{{ID: "t", Name: "t", Kind: KindStreaming}})
		if !errors.Is(err, ErrMissingHandler) {
			t.Errorf("error = %v, want ErrMissingHandler", err)
		}
	})

	t.Run("defaults nil schema to object", func(t *testing.T) {
		registry, err := New([]Tool{syncTool("tool-a", "tool_a")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tool, ok := registry.Lookup("tool_a")
		if !ok {
			t.Fatal("expected tool_a to be registered")
		}
		if string(tool.Schema) != `{"type": "object"}` {
			t.Errorf("Schema = %s, want default object schema", tool.Schema)
		}
	})
}

func TestLookup(t *testing.T) {
	registry, err := New([]Tool{
		syncTool("tool-a", "tool_a"),
		streamingTool("tool-b", "tool_b"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("finds registered tool by name", func(t *testing.T) {
		tool, ok := registry.Lookup("tool_b")
		if !ok {
			t.Fatal("expected tool_b to be found")
		}
		if tool.ID != "tool-b" {
			t.Errorf("ID = %q, want tool-b", tool.ID)
		}
		if tool.Kind != KindStreaming {
			t.Errorf("Kind = %q, want %q", tool.Kind, KindStreaming)
		}
	})

	t.Run("returns not found for unknown name", func(t *testing.T) {
		if _, ok := registry.Lookup("no_such_tool"); ok {
			t.Error("expected lookup miss for unknown name")
		}
	})
}

func TestList(t *testing.T) {
	registry, err := New([]Tool{
		syncTool("tool-c", "zz_last"),
		syncTool("tool-a", "aa_first"),
		streamingTool("tool-b", "mm_middle"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(list))
	}

	// Discovery order is stable and sorted by name
	wantOrder := []string{"aa_first", "mm_middle", "zz_last"}
	for i, want := range wantOrder {
		if list[i].Name != want {
			t.Errorf("List()[%d].Name = %q, want %q", i, list[i].Name, want)
		}
	}

	for _, d := range list {
		if d.Description == "" {
			t.Errorf("tool %q has empty description", d.Name)
		}
		if len(d.InputSchema) == 0 {
			t.Errorf("tool %q has empty input schema", d.Name)
		}
	}
}
