package errors

import (
	sterrors "errors"
	"fmt"
	"sort"
	"strings"
)

// RootField collects validation messages that do not belong to a single field.
const RootField = "$"

// ValidationError carries the per-field messages produced when a payload is
// rejected by a schema. The handler is never invoked when one is returned.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns an empty ValidationError ready to collect messages.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add appends a message for field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	if field == "" {
		field = RootField
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// Empty reports whether no message was collected.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// FieldNames returns the invalid field names in lexical order.
func (e *ValidationError) FieldNames() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, name := range e.FieldNames() {
		parts = append(parts, name+": "+strings.Join(e.Fields[name], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HandlerNotFoundError reports that no compiled handler is bound to the
// requested protocol identifier.
type HandlerNotFoundError struct {
	Tag    string
	Target string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler bound to %s %q", e.Tag, e.Target)
}

// HandlerExecutionError wraps a failure raised by a handler or one of its
// middlewares, including recovered panics.
type HandlerExecutionError struct {
	Method string
	Panic  bool
	Err    error
}

func (e *HandlerExecutionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("handler %q panicked: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("handler %q failed: %v", e.Method, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// TransportStartupError is returned when an adapter cannot initialise or bind
// its listener. It is the only error class that aborts a service.
type TransportStartupError struct {
	Adapter string
	Err     error
}

func (e *TransportStartupError) Error() string {
	return fmt.Sprintf("adapter %q failed to start: %v", e.Adapter, e.Err)
}

func (e *TransportStartupError) Unwrap() error { return e.Err }

// RegistrationError reports a binding declaration that cannot be compiled.
type RegistrationError struct {
	Service string
	Method  string
	Err     error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Service, e.Method, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return sterrors.As(err, &target)
}

// IsNotFound reports whether err is, or wraps, a HandlerNotFoundError.
func IsNotFound(err error) bool {
	var target *HandlerNotFoundError
	return sterrors.As(err, &target)
}

// Message returns the text transports should put on the wire for err. Handler
// failures are unwrapped so callers see the original message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var exec *HandlerExecutionError
	if sterrors.As(err, &exec) && exec.Err != nil {
		return exec.Err.Error()
	}
	return err.Error()
}
