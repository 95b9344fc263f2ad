package adapter

import (
	"errors"

	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
)

// Failure is the error body shared by adapters that answer with JSON.
type Failure struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// NewFailure describes err for the wire. Validation errors keep their per
// field messages; handler failures carry the handler's own message.
func NewFailure(err error) Failure {
	f := Failure{Error: errspkg.Message(err)}
	if verr := AsValidation(err); verr != nil {
		f.Fields = verr.Fields
	}
	return f
}

// AsValidation returns the ValidationError inside err, if any.
func AsValidation(err error) *errspkg.ValidationError {
	var verr *errspkg.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return nil
}
