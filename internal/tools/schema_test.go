// ABOUTME: Tests for argument schema generation from Go structs.
// ABOUTME: Checks property types, descriptions, and required field handling.

package tools

import (
	"encoding/json"
	"testing"
)

type echoArgs struct {
	Text string `json:"text" description:"Text to echo back"`
}

type evalArgs struct {
	Code           string `json:"code" description:"Source code to evaluate"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" description:"Evaluation timeout in seconds"`
}

func decodeSchema(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("generated schema is not valid JSON: %v", err)
	}
	return schema
}

func TestSchemaFor(t *testing.T) {
	t.Run("generates object schema with descriptions", func(t *testing.T) {
		raw, err := SchemaFor(echoArgs{})
		if err != nil {
			t.Fatalf("SchemaFor() error = %v", err)
		}
		schema := decodeSchema(t, raw)

		if schema["type"] != "object" {
			t.Errorf("type = %v, want object", schema["type"])
		}
		props, ok := schema["properties"].(map[string]any)
		if !ok {
			t.Fatalf("properties missing: %v", schema)
		}
		text, ok := props["text"].(map[string]any)
		if !ok {
			t.Fatalf("text property missing: %v", props)
		}
		if text["type"] != "string" {
			t.Errorf("text.type = %v, want string", text["type"])
		}
		if text["description"] != "Text to echo back" {
			t.Errorf("text.description = %v, want tag value", text["description"])
		}
	})

	t.Run("omitempty fields are optional", func(t *testing.T) {
		raw, err := SchemaFor(&evalArgs{})
		if err != nil {
			t.Fatalf("SchemaFor() error = %v", err)
		}
		schema := decodeSchema(t, raw)

		required, _ := schema["required"].([]any)
		foundCode := false
		for _, r := range required {
			if r == "timeout_seconds" {
				t.Error("timeout_seconds is required, want optional")
			}
			if r == "code" {
				foundCode = true
			}
		}
		if !foundCode {
			t.Errorf("required = %v, want to include code", required)
		}
	})

	t.Run("non-struct falls back to object", func(t *testing.T) {
		raw, err := SchemaFor("just a string")
		if err != nil {
			t.Fatalf("SchemaFor() error = %v", err)
		}
		schema := decodeSchema(t, raw)
		if schema["type"] != "object" {
			t.Errorf("type = %v, want object", schema["type"])
		}
	})
}

func TestMustSchemaFor(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustSchemaFor panicked: %v", r)
		}
	}()
	raw := MustSchemaFor(echoArgs{})
	if len(raw) == 0 {
		t.Error("MustSchemaFor returned empty schema")
	}
}
