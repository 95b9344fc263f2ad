package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract shared by the dispatcher, the handler
// compiler and every adapter. It mirrors Watermill's LoggerAdapter so broker
// code and dispatch code write to the same sink.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// SeverityField marks non-fatal conditions logged at info level.
const SeverityField = "severity"

// Warn logs a recoverable condition (a duplicate registration, a parameter
// source the current transport cannot provide) without failing the request.
func Warn(log ServiceLogger, msg string, fields LogFields) {
	if log == nil {
		return
	}
	log.Info(msg, fields.With(SeverityField, "warning"))
}

// With returns a copy of f that also carries key.
func (f LogFields) With(key string, value any) LogFields {
	out := make(LogFields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out[key] = value
	return out
}

var logLevelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies ServiceLogger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("polyflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, logLevelMapping))
}

// NewNopServiceLogger discards everything. Handy for tests and examples.
func NewNopServiceLogger() ServiceLogger {
	return NewWatermillServiceLogger(watermill.NopLogger{})
}

// OrNop returns log, or a discarding logger when log is nil.
func OrNop(log ServiceLogger) ServiceLogger {
	if log == nil {
		return NewNopServiceLogger()
	}
	return log
}
