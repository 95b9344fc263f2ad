package runtime

import (
	"time"

	"github.com/drblury/polyflow/internal/runtime/dispatch"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
)

// LifecycleEvent describes a start or stop transition of a Service.
type LifecycleEvent struct {
	Service  string
	Adapters []string
	At       time.Time
	// Err is set on OnAfterStop when closing an adapter failed.
	Err error
}

// ErrorEvent describes a handler or middleware failure.
type ErrorEvent struct {
	Service   string
	Method    string
	Transport string
	Err       error
	// Invocation is the failed request's context. It must not be retained.
	Invocation *dispatch.Context
}

// LifecycleHooks are callbacks around the service lifecycle. All hooks are
// optional.
type LifecycleHooks struct {
	OnBeforeStart func(LifecycleEvent)
	// OnAfterStart runs once every adapter is initialized, right before they
	// start listening.
	OnAfterStart func(LifecycleEvent)
	OnBeforeStop func(LifecycleEvent)
	OnAfterStop  func(LifecycleEvent)
	OnError      func(ErrorEvent)
}

// Merge returns hooks that call h first, then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnBeforeStart: chain(h.OnBeforeStart, other.OnBeforeStart),
		OnAfterStart:  chain(h.OnAfterStart, other.OnAfterStart),
		OnBeforeStop:  chain(h.OnBeforeStop, other.OnBeforeStop),
		OnAfterStop:   chain(h.OnAfterStop, other.OnAfterStop),
		OnError:       chain(h.OnError, other.OnError),
	}
}

func chain[E any](a, b func(E)) func(E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(e E) {
		a(e)
		b(e)
	}
}

func fire[E any](hook func(E), e E) {
	if hook != nil {
		hook(e)
	}
}

// LoggingHooks logs every lifecycle transition and failure.
func LoggingHooks(logger loggingpkg.ServiceLogger) LifecycleHooks {
	log := loggingpkg.OrNop(logger)
	transition := func(msg string) func(LifecycleEvent) {
		return func(e LifecycleEvent) {
			fields := loggingpkg.LogFields{"service": e.Service, "adapters": e.Adapters}
			if e.Err != nil {
				log.Error(msg, e.Err, fields)
				return
			}
			log.Info(msg, fields)
		}
	}
	return LifecycleHooks{
		OnBeforeStart: transition("Service starting"),
		OnAfterStart:  transition("Service started"),
		OnBeforeStop:  transition("Service stopping"),
		OnAfterStop:   transition("Service stopped"),
		OnError: func(e ErrorEvent) {
			log.Error("Invocation failed", e.Err, loggingpkg.LogFields{
				"service":   e.Service,
				"method":    e.Method,
				"transport": e.Transport,
			})
		},
	}
}

// AlertingHooks calls alert for every failed invocation.
func AlertingHooks(alert func(ErrorEvent)) LifecycleHooks {
	return LifecycleHooks{OnError: alert}
}
