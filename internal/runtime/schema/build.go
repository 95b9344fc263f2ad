package schema

import (
	"github.com/google/jsonschema-go/jsonschema"

	jsoncodec "github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

// Object builds a closed object schema. Names listed in required must be
// present and non-null.
func Object(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

// OpenObject is like Object but lets unknown fields through untouched.
func OpenObject(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func String(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

// NonEmptyString rejects "" after trimming.
func NonEmptyString(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description, MinLength: jsonschema.Ptr(1)}
}

func Integer(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

func Number(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: description}
}

func Boolean(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: description}
}

func Array(items *jsonschema.Schema, description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Items: items, Description: description}
}

// WithDefault sets the default used when the field is absent. It panics if
// value cannot be encoded, which only happens for programmer errors.
func WithDefault(s *jsonschema.Schema, value any) *jsonschema.Schema {
	raw, err := jsoncodec.Marshal(value)
	if err != nil {
		panic(err)
	}
	s.Default = raw
	return s
}

// Field describes one schema property for help output.
type Field struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Fields lists the top-level properties of s in name order.
func Fields(s *jsonschema.Schema) []Field {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sortStrings(names)
	out := make([]Field, 0, len(names))
	for _, name := range names {
		prop := s.Properties[name]
		typ := "any"
		if types := declaredTypes(prop); len(types) > 0 {
			typ = types[0]
		}
		out = append(out, Field{Name: name, Type: typ, Description: prop.Description, Required: required[name]})
	}
	return out
}
