package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	idspkg "github.com/drblury/polyflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/polyflow"

// MiddlewareBuilder constructs a middleware using the service it is
// registered on. Returning a nil middleware skips the registration.
type MiddlewareBuilder func(*Service) (dispatch.Middleware, error)

// MiddlewareRegistration describes one global middleware. Exactly one of
// Middleware or Builder must be set.
type MiddlewareRegistration struct {
	Name       string
	Middleware dispatch.Middleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the global chain installed by NewService unless
// disabled. Outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogInvocationsMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		StatsMiddleware(),
	}
}

// CorrelationIDMiddleware makes sure every invocation carries a correlation
// id in its metadata, generating a ULID when the caller sent none.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(c *dispatch.Context) error {
			if c.Metadata.CorrelationID() == "" {
				c.Metadata = c.Metadata.With(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
			}
			return c.Next()
		},
	}
}

// LogInvocationsMiddleware logs each invocation at debug level with its
// outcome and duration. A nil logger uses the service logger.
func LogInvocationsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_invocations",
		Builder: func(s *Service) (dispatch.Middleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			return func(c *dispatch.Context) error {
				start := time.Now()
				err := c.Next()
				fields := loggingpkg.LogFields{
					"method":         c.Entry.Name,
					"transport":      c.Transport,
					"correlation_id": c.Metadata.CorrelationID(),
					"duration_ms":    time.Since(start).Milliseconds(),
					"invoked":        c.Invoked(),
				}
				if err != nil {
					fields["error"] = err.Error()
				}
				l.Debug("Invocation handled", fields)
				return err
			}, nil
		},
	}
}

// TracerMiddleware wraps the rest of the chain in an OpenTelemetry span
// named "<service>.<method>".
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (dispatch.Middleware, error) {
			return tracerMiddleware(otel.Tracer(tracerName)), nil
		},
	}
}

func tracerMiddleware(tracer trace.Tracer) dispatch.Middleware {
	return func(c *dispatch.Context) error {
		ctx, span := tracer.Start(c.Context(), c.Service+"."+c.Entry.Name,
			trace.WithAttributes(
				attribute.String("polyflow.service", c.Service),
				attribute.String("polyflow.method", c.Entry.Name),
				attribute.String("polyflow.transport", c.Transport),
				attribute.String("polyflow.tag", string(c.Binding.Tag)),
				attribute.String("polyflow.target", c.Binding.Target),
				attribute.String("polyflow.correlation_id", c.Metadata.CorrelationID()),
			))
		defer span.End()
		c.SetContext(ctx)

		err := c.Next()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, errspkg.Message(err))
		}
		return err
	}
}

// MetricsMiddleware counts invocations and observes their duration when
// metrics are enabled in the config.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (dispatch.Middleware, error) {
			if s.Conf == nil || !s.Conf.MetricsEnabled {
				return nil, nil
			}
			m, err := newInvocationMetrics(s.registerer)
			if err != nil {
				return nil, err
			}
			return m.middleware, nil
		},
	}
}

// StatsMiddleware feeds the per-handler statistics shown by the web UI.
func StatsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "stats",
		Builder: func(s *Service) (dispatch.Middleware, error) {
			return statsMiddleware(s), nil
		},
	}
}

// TimeoutMiddleware bounds the context seen by later middleware and the
// handler. It is meant for per-binding use through the named table.
func TimeoutMiddleware(d time.Duration) dispatch.Middleware {
	return func(c *dispatch.Context) error {
		ctx, cancel := context.WithTimeout(c.Context(), d)
		defer cancel()
		c.SetContext(ctx)
		return c.Next()
	}
}

// RequireMetadata rejects invocations that lack any of keys with a
// validation error naming the missing keys.
func RequireMetadata(keys ...string) dispatch.Middleware {
	return func(c *dispatch.Context) error {
		verr := errspkg.NewValidationError()
		for _, k := range keys {
			if c.Metadata[k] == "" {
				verr.Add(k, "is required")
			}
		}
		if !verr.Empty() {
			return verr
		}
		return c.Next()
	}
}

type invocationMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newInvocationMetrics(reg prometheus.Registerer) (*invocationMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"service", "method", "transport", "outcome"}
	total, err := registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polyflow",
		Name:      "invocations_total",
		Help:      "Handler invocations by outcome.",
	}, labels))
	if err != nil {
		return nil, err
	}
	duration, err := registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "polyflow",
		Name:      "invocation_duration_seconds",
		Help:      "Time spent in middleware and handler.",
		Buckets:   prometheus.DefBuckets,
	}, labels))
	if err != nil {
		return nil, err
	}
	return &invocationMetrics{total: total, duration: duration}, nil
}

func (m *invocationMetrics) middleware(c *dispatch.Context) error {
	start := time.Now()
	err := c.Next()
	outcome := "success"
	switch {
	case err == nil:
	case errspkg.IsValidation(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	values := []string{c.Service, c.Entry.Name, c.Transport, outcome}
	m.total.WithLabelValues(values...).Inc()
	m.duration.WithLabelValues(values...).Observe(time.Since(start).Seconds())
	return err
}

// registerCollector reuses a collector that is already registered, so
// several services in one process share the same series.
func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	var zero C
	return zero, fmt.Errorf("register metrics: %w", err)
}

func (s *Service) buildMiddlewares(regs []MiddlewareRegistration) ([]dispatch.Middleware, error) {
	chain := make([]dispatch.Middleware, 0, len(regs))
	for _, reg := range regs {
		name := reg.Name
		if name == "" {
			name = "anonymous_middleware"
		}
		var mw dispatch.Middleware
		switch {
		case reg.Middleware != nil:
			mw = reg.Middleware
		case reg.Builder != nil:
			built, err := reg.Builder(s)
			if err != nil {
				return nil, fmt.Errorf("middleware %s: %w", name, err)
			}
			mw = built
		default:
			return nil, fmt.Errorf("middleware %s: registration requires Middleware or Builder", name)
		}
		if mw != nil {
			chain = append(chain, mw)
		}
	}
	return chain, nil
}
