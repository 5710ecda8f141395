// ABOUTME: JSON schema generation for tool argument structs.
// ABOUTME: Reflects Go types into inlined schemas with description tag support.

package tools

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a tool argument struct into an inlined JSON schema.
// Field descriptions come from `description` struct tags; fields whose json
// tag carries omitempty are optional, everything else is required.
func SchemaFor(v any) (json.RawMessage, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, fmt.Errorf("schema source is nil")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return json.RawMessage(`{"type": "object"}`), nil
	}

	// Inline everything; discovery clients do not resolve $defs references.
	reflector := &jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(reflect.New(t).Interface())

	// The reflector does not read description tags, so copy them over.
	if schema.Properties != nil {
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			jsonTag := field.Tag.Get("json")
			if jsonTag == "" || jsonTag == "-" {
				continue
			}
			propertyName := strings.Split(jsonTag, ",")[0]
			if prop, ok := schema.Properties.Get(propertyName); ok {
				if desc := field.Tag.Get("description"); desc != "" {
					prop.Description = desc
				}
			}
		}
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	return data, nil
}

// MustSchemaFor is SchemaFor for static tool definitions where a failure is
// a programming error.
func MustSchemaFor(v any) json.RawMessage {
	schema, err := SchemaFor(v)
	if err != nil {
		panic(err)
	}
	return schema
}
