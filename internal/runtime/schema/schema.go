// Package schema validates and coerces payloads against JSON Schema
// documents before they reach a handler.
//
// Validators report every invalid field at once as an
// *errors.ValidationError. Values that pass are returned in coerced form:
// strings trimmed, CLI strings converted to the declared number or boolean
// type, and defaults filled in. Handlers only ever see the coerced value.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

// Validator checks a raw payload and returns the value handlers receive.
type Validator interface {
	Validate(value any) (any, error)
	JSONSchema() *jsonschema.Schema
}

// Option tunes coercion.
type Option func(*options)

type options struct {
	trim   bool
	coerce bool
}

// WithoutTrim keeps surrounding whitespace on string values.
func WithoutTrim() Option {
	return func(o *options) { o.trim = false }
}

// WithoutCoercion disables string to number/boolean/array conversion.
func WithoutCoercion() Option {
	return func(o *options) { o.coerce = false }
}

type property struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	required bool
}

type objectValidator struct {
	schema *jsonschema.Schema
	root   *jsonschema.Resolved
	props  map[string]property
	names  []string
	closed bool
	scalar bool
	opts   options
}

// New compiles s. Object schemas are validated property by property so every
// failing field is reported; other schemas are validated as a single value.
func New(s *jsonschema.Schema, opts ...Option) (Validator, error) {
	return compile(s, opts)
}

// MustNew is like New but panics on an invalid schema.
func MustNew(s *jsonschema.Schema, opts ...Option) Validator {
	v, err := New(s, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

func compile(s *jsonschema.Schema, opts []Option) (*objectValidator, error) {
	if s == nil {
		return nil, errors.New("schema: nil schema")
	}
	o := options{trim: true, coerce: true}
	for _, opt := range opts {
		opt(&o)
	}

	root, err := s.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, fmt.Errorf("schema: resolve: %w", err)
	}

	v := &objectValidator{schema: s, root: root, opts: o}
	if s.Type != "object" && len(s.Properties) == 0 {
		v.scalar = true
		return v, nil
	}

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}
	v.props = make(map[string]property, len(s.Properties))
	for name, sub := range s.Properties {
		resolved, err := sub.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("schema: property %q: %w", name, err)
		}
		v.props[name] = property{schema: sub, resolved: resolved, required: required[name]}
		v.names = append(v.names, name)
	}
	sortStrings(v.names)
	v.closed = isFalseSchema(s.AdditionalProperties)
	return v, nil
}

func (v *objectValidator) JSONSchema() *jsonschema.Schema { return v.schema }

func (v *objectValidator) Validate(value any) (any, error) {
	if v.scalar {
		return v.validateScalar(value)
	}
	return v.validateObject(value)
}

func (v *objectValidator) validateScalar(value any) (any, error) {
	prepared := v.prepare(v.schema, value)
	if err := v.root.Validate(prepared); err != nil {
		verr := errspkg.NewValidationError()
		verr.Add(errspkg.RootField, describe(err))
		return nil, verr
	}
	return prepared, nil
}

func (v *objectValidator) validateObject(value any) (map[string]any, error) {
	obj, err := toObject(value)
	if err != nil {
		verr := errspkg.NewValidationError()
		verr.Add(errspkg.RootField, err.Error())
		return nil, verr
	}

	verr := errspkg.NewValidationError()
	out := make(map[string]any, len(obj))
	for _, name := range v.names {
		prop := v.props[name]
		raw, present := obj[name]
		if !present || raw == nil {
			if prop.required {
				verr.Add(name, "is required")
				continue
			}
			if prop.schema.Default != nil {
				var def any
				if err := jsoncodec.Unmarshal(prop.schema.Default, &def); err == nil {
					out[name] = def
				}
			}
			continue
		}
		val := v.prepare(prop.schema, raw)
		if err := prop.resolved.Validate(val); err != nil {
			verr.Add(name, describe(err))
			continue
		}
		out[name] = val
	}

	extra := make([]string, 0)
	for key := range obj {
		if _, known := v.props[key]; !known {
			extra = append(extra, key)
		}
	}
	sortStrings(extra)
	for _, key := range extra {
		if v.closed {
			verr.Add(key, "is not allowed")
			continue
		}
		out[key] = obj[key]
	}

	if !verr.Empty() {
		return nil, verr
	}
	if err := v.root.Validate(out); err != nil {
		verr.Add(errspkg.RootField, describe(err))
		return nil, verr
	}
	return out, nil
}

// prepare trims and coerces raw according to the declared type of s,
// descending into nested object properties and array items.
func (v *objectValidator) prepare(s *jsonschema.Schema, raw any) any {
	if s == nil {
		return raw
	}
	switch typed := raw.(type) {
	case map[string]any:
		if len(s.Properties) == 0 {
			return typed
		}
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			out[key] = v.prepare(s.Properties[key], val)
		}
		return out
	case []any:
		if s.Items == nil {
			return typed
		}
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = v.prepare(s.Items, item)
		}
		return out
	}
	str, ok := raw.(string)
	if !ok {
		return raw
	}
	if v.opts.trim {
		str = strings.TrimSpace(str)
	}
	if !v.opts.coerce {
		return str
	}
	for _, typ := range declaredTypes(s) {
		switch typ {
		case "string":
			return str
		case "integer":
			if n, err := strconv.ParseInt(str, 10, 64); err == nil {
				return n
			}
		case "number":
			if f, err := strconv.ParseFloat(str, 64); err == nil {
				return f
			}
		case "boolean":
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		case "array":
			if str == "" {
				return []any{}
			}
			parts := strings.Split(str, ",")
			items := make([]any, len(parts))
			for i, part := range parts {
				items[i] = v.prepare(s.Items, part)
			}
			return items
		}
	}
	return str
}

func declaredTypes(s *jsonschema.Schema) []string {
	if s == nil {
		return nil
	}
	if s.Type != "" {
		return []string{s.Type}
	}
	return s.Types
}

func toObject(value any) (map[string]any, error) {
	switch typed := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return typed, nil
	case map[string]string:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[k] = v
		}
		return out, nil
	case []byte:
		var out map[string]any
		if err := jsoncodec.Unmarshal(typed, &out); err != nil {
			return nil, fmt.Errorf("expected a JSON object: %v", err)
		}
		return out, nil
	}
	generic, err := jsoncodec.Normalize(value)
	if err != nil {
		return nil, fmt.Errorf("expected an object: %v", err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", value)
	}
	return obj, nil
}

// describe drops the "validating <schema>:" prefixes jsonschema adds at each
// level and keeps the innermost message.
func describe(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func sortStrings(values []string) { sort.Strings(values) }

func isFalseSchema(s *jsonschema.Schema) bool {
	return s != nil && s.Not != nil && reflect.ValueOf(*s.Not).IsZero()
}
