package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrServiceRequired", ErrServiceRequired, "polyflow: service descriptor is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "polyflow: handler function is required"},
		{"ErrRegistryRequired", ErrRegistryRequired, "polyflow: binding registry is required"},
		{"ErrTagRequired", ErrTagRequired, "polyflow: protocol tag is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "polyflow: publisher is required"},
		{"ErrConfigRequired", ErrConfigRequired, "polyflow: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "polyflow: logger is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	assert.Equal(t, "polyflow: invalid configuration: invalid port", err.Error())
	assert.Same(t, inner, err.Unwrap())
	assert.Nil(t, NewConfigValidationError(nil))
	assert.ErrorIs(t, NewConfigValidationError(inner), inner)
}

func TestValidationErrorCollectsFields(t *testing.T) {
	verr := NewValidationError()
	assert.True(t, verr.Empty())

	verr.Add("msg", "is required")
	verr.Add("count", "must be an integer")
	verr.Add("", "unexpected payload")

	require.False(t, verr.Empty())
	assert.Equal(t, []string{"$", "count", "msg"}, verr.FieldNames())
	assert.Equal(t, "validation failed: $: unexpected payload; count: must be an integer; msg: is required", verr.Error())
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", verr)))
}

func TestHandlerExecutionErrorUnwraps(t *testing.T) {
	cause := errors.New("division by zero")
	err := &HandlerExecutionError{Method: "divide", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, `handler "divide" failed: division by zero`, err.Error())
	assert.Equal(t, "division by zero", Message(err))

	panicked := &HandlerExecutionError{Method: "divide", Panic: true, Err: cause}
	assert.Contains(t, panicked.Error(), "panicked")
}

func TestNotFoundAndStartupErrors(t *testing.T) {
	nf := &HandlerNotFoundError{Tag: "rpc", Target: "subtract"}
	assert.True(t, IsNotFound(nf))
	assert.False(t, IsNotFound(errors.New("other")))
	assert.Equal(t, `no handler bound to rpc "subtract"`, nf.Error())

	bind := errors.New("address in use")
	startup := &TransportStartupError{Adapter: "http", Err: bind}
	assert.ErrorIs(t, startup, bind)
	assert.Equal(t, "", Message(nil))
}
