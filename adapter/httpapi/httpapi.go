// Package httpapi exposes http.<VERB> bindings as JSON endpoints on a chi
// router.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/internal/runtime/binding"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	idspkg "github.com/drblury/polyflow/internal/runtime/ids"
	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
)

const (
	Name = "http"

	defaultAddress      = ":8080"
	defaultReadTimeout  = 15 * time.Second
	defaultMaxBodyBytes = 1 << 20

	// OptionStatus on a binding overrides the success status code.
	OptionStatus = "status"

	HeaderCorrelationID = "X-Correlation-Id"
)

func init() {
	adapter.Register(Name, func() adapter.Adapter { return New() })
}

// Adapter serves every HTTP route of the dispatcher.
type Adapter struct {
	dispatcher   *dispatch.Dispatcher
	log          loggingpkg.ServiceLogger
	maxBodyBytes int64

	router   chi.Router
	listener net.Listener
	server   *http.Server
}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Initialize(_ context.Context, env adapter.Env) error {
	if env.Dispatcher == nil {
		return errspkg.ErrDispatcherRequired
	}
	conf := env.Conf()
	a.dispatcher = env.Dispatcher
	a.log = env.Log(Name)
	a.maxBodyBytes = conf.HTTPMaxBodyBytes
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = defaultMaxBodyBytes
	}
	readTimeout := conf.HTTPReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	router, err := a.buildRouter(env.Bool("metrics", conf.MetricsEnabled && conf.MetricsPort == 0))
	if err != nil {
		return err
	}
	a.router = router

	addr := env.String("address", conf.HTTPAddress)
	if addr == "" {
		addr = defaultAddress
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http: listen on %s: %w", addr, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           a.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
	}
	return nil
}

// Handler returns the router, for embedding or tests. It is nil before
// Initialize.
func (a *Adapter) Handler() http.Handler {
	if a.router == nil {
		return nil
	}
	return a.router
}

func (a *Adapter) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// buildRouter mounts every HTTP binding. chi panics on malformed patterns;
// those come back as errors so Initialize can fail cleanly.
func (a *Adapter) buildRouter(metrics bool) (_ chi.Router, err error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, adapter.Failure{
			Error: fmt.Sprintf("Route '%s %s' not found", req.Method, req.URL.Path),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, adapter.Failure{
			Error: fmt.Sprintf("Method %s not allowed on '%s'", req.Method, req.URL.Path),
		})
	})
	if metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	var pattern string
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("http: mount %s: %v", pattern, p)
		}
	}()
	for _, route := range a.dispatcher.HTTPRoutes() {
		pattern = route.Tag.HTTPVerb() + " " + route.Target
		if !strings.HasPrefix(route.Target, "/") {
			return nil, fmt.Errorf("http: path %q for %s must begin with '/'", route.Target, route.Entry.Name)
		}
		r.MethodFunc(route.Tag.HTTPVerb(), route.Target, a.handle(route))
		a.log.Debug("HTTP route mounted", loggingpkg.LogFields{
			"verb":   route.Tag.HTTPVerb(),
			"path":   route.Target,
			"method": route.Entry.Name,
		})
	}
	return r, nil
}

func (a *Adapter) Listen(ctx context.Context) error {
	if a.server == nil {
		return errspkg.ErrAdapterNotReady
	}
	a.log.Info("HTTP adapter listening", loggingpkg.LogFields{"address": a.listener.Addr().String()})

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(a.listener) }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *Adapter) Close(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

func (a *Adapter) handle(route dispatch.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		payload, err := readPayload(r)
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSON(w, status, adapter.Failure{Error: err.Error()})
			return
		}

		md := metadatapkg.FromHeader(r.Header).With(metadatapkg.KeyTransport, Name)
		if md.CorrelationID() == "" {
			md = md.With(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
		}
		w.Header().Set(HeaderCorrelationID, md.CorrelationID())

		tw := &trackingWriter{ResponseWriter: w}
		result, err := a.dispatcher.Invoke(r.Context(), route, dispatch.Request{
			Tag:       route.Tag,
			Target:    route.Target,
			Transport: Name,
			View: dispatch.RequestView{
				Body:      payload.body,
				Files:     payload.files,
				Params:    urlParams(r),
				Query:     r.URL.Query(),
				Headers:   r.Header,
				Cookies:   cookies(r),
				Request:   r,
				Response:  tw,
				Context:   r.Context(),
				Supported: binding.AllSources &^ binding.Sources(binding.SourceArgs, binding.SourceSession),
			},
			Metadata: md,
		})
		if tw.wrote {
			return
		}
		if err != nil {
			writeJSON(w, statusFor(err), adapter.NewFailure(err))
			return
		}
		if result == nil {
			w.WriteHeader(successStatus(route.Binding, http.StatusNoContent))
			return
		}
		writeJSON(w, successStatus(route.Binding, http.StatusOK), result)
	}
}

func statusFor(err error) int {
	switch {
	case errspkg.IsValidation(err):
		return http.StatusBadRequest
	case errspkg.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func successStatus(b binding.MethodBinding, fallback int) int {
	if v, ok := b.Option(OptionStatus); ok {
		if code, isInt := v.(int); isInt && code >= 200 && code < 300 {
			return code
		}
	}
	return fallback
}

func urlParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		params[key] = rctx.URLParams.Values[i]
	}
	return params
}

func cookies(r *http.Request) map[string]string {
	out := make(map[string]string)
	for _, c := range r.Cookies() {
		out[c.Name] = c.Value
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = jsoncodec.Marshal(adapter.Failure{Error: "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// trackingWriter notices handlers that answer through a bound response.
type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }
