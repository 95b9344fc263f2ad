package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/drblury/polyflow/internal/runtime/binding"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
)

// runThrough sends one request through mws and returns the context the handler saw.
func runThrough(t *testing.T, md metadatapkg.Metadata, mws ...dispatch.Middleware) (*dispatch.Context, error) {
	t.Helper()
	d := dispatch.New("svc", dispatch.Options{Middleware: mws})
	var seen *dispatch.Context
	require.NoError(t, d.Add(&dispatch.Entry{
		Name: "inspect",
		Handler: func(c *dispatch.Context, _ ...any) (any, error) {
			seen = c
			return "ok", nil
		},
		Bindings: map[binding.Tag]binding.MethodBinding{
			binding.TagRPC: {Tag: binding.TagRPC, Target: "inspect"},
		},
	}))
	_, err := d.Dispatch(context.Background(), dispatch.Request{Tag: binding.TagRPC, Target: "inspect", Transport: "test", Metadata: md})
	return seen, err
}

func TestCorrelationIDMiddleware(t *testing.T) {
	mw := CorrelationIDMiddleware().Middleware

	c, err := runThrough(t, nil, mw)
	require.NoError(t, err)
	assert.Len(t, c.Metadata.CorrelationID(), 26)

	c, err = runThrough(t, metadatapkg.New(metadatapkg.KeyCorrelationID, "abc"), mw)
	require.NoError(t, err)
	assert.Equal(t, "abc", c.Metadata.CorrelationID())
}

func TestRequireMetadata(t *testing.T) {
	mw := RequireMetadata("tenant", "user")

	c, err := runThrough(t, metadatapkg.New("tenant", "acme"), mw)
	assert.Nil(t, c)
	require.True(t, errspkg.IsValidation(err))
	var verr *errspkg.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"user"}, verr.FieldNames())

	c, err = runThrough(t, metadatapkg.New("tenant", "acme", "user", "ada"), mw)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestTimeoutMiddleware(t *testing.T) {
	c, err := runThrough(t, nil, TimeoutMiddleware(time.Minute))
	require.NoError(t, err)
	deadline, ok := c.Context().Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestTracerMiddlewareReplacesContext(t *testing.T) {
	var before context.Context
	capture := func(c *dispatch.Context) error {
		before = c.Context()
		return c.Next()
	}
	c, err := runThrough(t, nil, capture, tracerMiddleware(noop.NewTracerProvider().Tracer("test")))
	require.NoError(t, err)
	assert.NotEqual(t, before, c.Context())
}

func TestLogInvocationsMiddleware(t *testing.T) {
	log := newRecordingLogger()
	s := &Service{Logger: log}
	mw, err := LogInvocationsMiddleware(nil).Builder(s)
	require.NoError(t, err)

	_, err = runThrough(t, nil, mw)
	require.NoError(t, err)
	require.Len(t, *log.entries, 1)
	assert.Equal(t, "Invocation handled", (*log.entries)[0].msg)

	_, err = LogInvocationsMiddleware(nil).Builder(&Service{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestBuildMiddlewares(t *testing.T) {
	s := &Service{}
	noopMW := func(c *dispatch.Context) error { return c.Next() }

	chain, err := s.buildMiddlewares([]MiddlewareRegistration{
		{Name: "static", Middleware: noopMW},
		{Name: "skipped", Builder: func(*Service) (dispatch.Middleware, error) { return nil, nil }},
		{Name: "built", Builder: func(*Service) (dispatch.Middleware, error) { return noopMW, nil }},
	})
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	_, err = s.buildMiddlewares([]MiddlewareRegistration{{}})
	assert.ErrorContains(t, err, "anonymous_middleware")

	_, err = s.buildMiddlewares([]MiddlewareRegistration{{
		Name:    "broken",
		Builder: func(*Service) (dispatch.Middleware, error) { return nil, errBoom },
	}})
	assert.ErrorIs(t, err, errBoom)
}

func TestMetricsMiddlewareDisabledByDefault(t *testing.T) {
	s := newTestService(t, nil, ServiceDependencies{})
	mw, err := MetricsMiddleware().Builder(s)
	require.NoError(t, err)
	assert.Nil(t, mw)
}

func TestInvocationMetricsShareCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := newInvocationMetrics(reg)
	require.NoError(t, err)
	second, err := newInvocationMetrics(reg)
	require.NoError(t, err)
	assert.Same(t, first.total, second.total)
	assert.Same(t, first.duration, second.duration)
}

func TestRegisterCollectorRejectsConflicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := registerCollector(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: "polyflow_invocations_total", Help: "x"}))
	require.NoError(t, err)

	_, err = newInvocationMetrics(reg)
	assert.ErrorContains(t, err, "register metrics")
}
