package errors

import sterrors "errors"

var (
	ErrServiceRequired     = sterrors.New("polyflow: service descriptor is required")
	ErrServiceNameRequired = sterrors.New("polyflow: service name is required")
	ErrRegistryRequired    = sterrors.New("polyflow: binding registry is required")
	ErrHandlerRequired     = sterrors.New("polyflow: handler function is required")
	ErrMethodNameRequired  = sterrors.New("polyflow: method name is required")
	ErrTagRequired         = sterrors.New("polyflow: protocol tag is required")
	ErrTargetRequired      = sterrors.New("polyflow: binding target is required")
	ErrDispatcherRequired  = sterrors.New("polyflow: dispatcher is required")
	ErrAdapterNameRequired = sterrors.New("polyflow: adapter name is required")
	ErrAdapterNotReady     = sterrors.New("polyflow: adapter is not initialized")
	ErrAdapterClosed       = sterrors.New("polyflow: adapter is closed")
	ErrPublisherRequired   = sterrors.New("polyflow: publisher is required")
	ErrTopicRequired       = sterrors.New("polyflow: topic is required")
	ErrConfigRequired      = sterrors.New("polyflow: configuration is required")
	ErrLoggerRequired      = sterrors.New("polyflow: logger is required")
)

// ConfigValidationError marks a configuration that failed Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "polyflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
