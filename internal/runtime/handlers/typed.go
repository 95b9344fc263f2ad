package handlers

import (
	"fmt"
	"strconv"

	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

// Arg converts a bound argument to T. Values that already are a T pass
// through, nil becomes the zero value, and anything else is converted through
// JSON. Strings are also tried as JSON literals so CLI input like "2" or
// "true" reaches numeric and boolean parameters.
func Arg[T any](index int, v any) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	if err := jsoncodec.Convert(v, &out); err == nil {
		return out, nil
	}
	if s, ok := v.(string); ok {
		if err := jsoncodec.Unmarshal([]byte(s), &out); err == nil {
			return out, nil
		}
	}
	verr := errspkg.NewValidationError()
	verr.Add(strconv.Itoa(index), fmt.Sprintf("cannot use %T as %T", v, out))
	return out, verr
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// Func wraps an untyped handler with an explicit arity.
func Func(name string, arity int, fn dispatch.HandlerFunc) MethodDesc {
	return MethodDesc{Name: name, Arity: arity, Handler: fn}
}

func Method0[R any](name string, fn func(*dispatch.Context) (R, error)) MethodDesc {
	return Func(name, 0, func(c *dispatch.Context, _ ...any) (any, error) {
		return fn(c)
	})
}

func Method1[A, R any](name string, fn func(*dispatch.Context, A) (R, error)) MethodDesc {
	return Func(name, 1, func(c *dispatch.Context, args ...any) (any, error) {
		a, err := Arg[A](0, arg(args, 0))
		if err != nil {
			return nil, err
		}
		return fn(c, a)
	})
}

func Method2[A, B, R any](name string, fn func(*dispatch.Context, A, B) (R, error)) MethodDesc {
	return Func(name, 2, func(c *dispatch.Context, args ...any) (any, error) {
		a, err := Arg[A](0, arg(args, 0))
		if err != nil {
			return nil, err
		}
		b, err := Arg[B](1, arg(args, 1))
		if err != nil {
			return nil, err
		}
		return fn(c, a, b)
	})
}

func Method3[A, B, C, R any](name string, fn func(*dispatch.Context, A, B, C) (R, error)) MethodDesc {
	return Func(name, 3, func(c *dispatch.Context, args ...any) (any, error) {
		a, err := Arg[A](0, arg(args, 0))
		if err != nil {
			return nil, err
		}
		b, err := Arg[B](1, arg(args, 1))
		if err != nil {
			return nil, err
		}
		cc, err := Arg[C](2, arg(args, 2))
		if err != nil {
			return nil, err
		}
		return fn(c, a, b, cc)
	})
}
