package schema

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	jsoncodec "github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

type typedValidator[T any] struct {
	inner *objectValidator
}

// For infers a schema from T and returns a validator whose successful result
// is a T value rather than a generic map.
func For[T any](opts ...Option) (Validator, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("schema: infer: %w", err)
	}
	inner, err := compile(s, opts)
	if err != nil {
		return nil, err
	}
	return &typedValidator[T]{inner: inner}, nil
}

// MustFor is like For but panics when T cannot be described.
func MustFor[T any](opts ...Option) Validator {
	v, err := For[T](opts...)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *typedValidator[T]) JSONSchema() *jsonschema.Schema { return v.inner.schema }

func (v *typedValidator[T]) Validate(value any) (any, error) {
	validated, err := v.inner.Validate(value)
	if err != nil {
		return nil, err
	}
	var out T
	if err := jsoncodec.Convert(validated, &out); err != nil {
		return nil, fmt.Errorf("schema: convert to %T: %w", out, err)
	}
	return out, nil
}
