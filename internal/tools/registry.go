// ABOUTME: Read-only tool registry with collision detection and name-based lookup.
// ABOUTME: Built once at startup; concurrent reads need no locking afterward.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateToolID indicates two tools were registered with the same id.
	ErrDuplicateToolID = errors.New("duplicate tool id")
	// ErrDuplicateToolName indicates two tools were registered with the same name.
	ErrDuplicateToolName = errors.New("duplicate tool name")
	// ErrMissingHandler indicates a tool was registered without the handler its kind requires.
	ErrMissingHandler = errors.New("missing tool handler")
)

// Kind tags how a tool executes.
type Kind string

const (
	// KindSync tools run to completion and return one result.
	KindSync Kind = "sync"
	// KindStreaming tools emit incremental events through a sink while running.
	KindStreaming Kind = "streaming"
)

// EventSink receives incremental events from a streaming tool handler.
type EventSink interface {
	// Message emits one output line at the given level ("info" or "error").
	Message(level, text string)
}

// SyncHandler runs a tool to completion and returns its result text.
type SyncHandler func(ctx context.Context, args map[string]any) (string, error)

// StreamHandler runs a tool, emitting incremental events through sink before
// returning its final result text.
type StreamHandler func(ctx context.Context, args map[string]any, sink EventSink) (string, error)

// Tool is one registered tool. Immutable after registration; owned by the
// registry.
type Tool struct {
	ID          string
	Name        string
	Description string
	Schema      json.RawMessage
	Kind        Kind
	Run         SyncHandler
	Stream      StreamHandler
}

// Descriptor is the discovery view of a tool returned by tools/list.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Registry holds the tool set for one server process. No mutation after
// construction, which makes concurrent reads lock-free.
type Registry struct {
	byID   map[string]*Tool
	byName map[string]string
	list   []Descriptor
}

// New builds a registry from the given tools. Construction fails on id or
// name collisions and on tools missing the handler their kind requires.
func New(toolList []Tool) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]*Tool, len(toolList)),
		byName: make(map[string]string, len(toolList)),
	}

	for i := range toolList {
		t := toolList[i]
		if t.ID == "" || t.Name == "" {
			return nil, fmt.Errorf("tool %d: id and name are required", i)
		}
		switch t.Kind {
		case KindSync:
			if t.Run == nil {
				return nil, fmt.Errorf("%w: sync tool %q has no Run", ErrMissingHandler, t.Name)
			}
		case KindStreaming:
			if t.Stream == nil {
				return nil, fmt.Errorf("%w: streaming tool %q has no Stream", ErrMissingHandler, t.Name)
			}
		default:
			return nil, fmt.Errorf("tool %q: unknown kind %q", t.Name, t.Kind)
		}
		if _, exists := r.byID[t.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateToolID, t.ID)
		}
		if _, exists := r.byName[t.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateToolName, t.Name)
		}
		if t.Schema == nil {
			t.Schema = json.RawMessage(`{"type": "object"}`)
		}

		r.byID[t.ID] = &t
		r.byName[t.Name] = t.ID
		r.list = append(r.list, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema,
		})
	}

	sort.Slice(r.list, func(i, j int) bool { return r.list[i].Name < r.list[j].Name })
	return r, nil
}

// List returns tool descriptors for protocol discovery, sorted by name.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.list))
	copy(out, r.list)
	return out
}

// Lookup resolves a tool by its protocol name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.byID)
}
