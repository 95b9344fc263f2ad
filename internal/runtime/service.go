package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/internal/runtime/binding"
	configpkg "github.com/drblury/polyflow/internal/runtime/config"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	"github.com/drblury/polyflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
)

const shutdownTimeout = 5 * time.Second

// ServiceDependencies holds the collaborators of a Service. Registry is
// required; everything else is optional.
type ServiceDependencies struct {
	Registry *binding.Registry
	// Adapters are started in addition to the ones selected by name.
	Adapters []adapter.Adapter
	// AdapterRegistry resolves adapter names from the class binding and from
	// Config.Adapters. Defaults to adapter.DefaultRegistry.
	AdapterRegistry *adapter.Registry
	// Middlewares are appended after the default chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
	// NamedMiddleware resolves the middleware names listed on bindings.
	NamedMiddleware map[string]dispatch.Middleware
	Hooks           LifecycleHooks
	ErrorClassifier ErrorClassifier
	// MetricsRegisterer defaults to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
}

// Service compiles a service description against its bindings and runs the
// adapters that expose it.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	name       string
	dispatcher *dispatch.Dispatcher
	adapters   []adapterSlot

	hooksMu sync.RWMutex
	hooks   LifecycleHooks

	statsMu sync.Mutex
	stats   map[string]*HandlerStats

	errorClassifier ErrorClassifier
	registerer      prometheus.Registerer
	sampler         *resourceSampler

	httpMu      sync.Mutex
	httpRouters map[int]chi.Router
	httpServers []*http.Server

	stateMu  sync.Mutex
	started  bool
	stopped  bool
	stopErr  error
	stopDone chan struct{}
}

type adapterSlot struct {
	adapter adapter.Adapter
	options map[string]any
}

// NewService is TryNewService that panics on error, matching how services
// are usually wired in main.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, desc handlers.ServiceDesc, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, desc, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService compiles desc, builds the middleware chain and resolves the
// adapters to run.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, desc handlers.ServiceDesc, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if deps.Registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	s := &Service{
		Conf:            conf,
		Logger:          log,
		name:            desc.Name,
		hooks:           deps.Hooks,
		stats:           make(map[string]*HandlerStats),
		errorClassifier: deps.ErrorClassifier,
		registerer:      deps.MetricsRegisterer,
		sampler:         newResourceSampler(),
		httpRouters:     make(map[int]chi.Router),
		stopDone:        make(chan struct{}),
	}
	if s.errorClassifier == nil {
		s.errorClassifier = DefaultErrorClassifier
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}

	log.Info("Creating service", loggingpkg.LogFields{
		"service": desc.Name,
		"config":  conf,
	})

	entries, err := handlers.Compile(desc, handlers.Options{
		Registry:   deps.Registry,
		Middleware: deps.NamedMiddleware,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	var regs []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		regs = append(regs, DefaultMiddlewares()...)
	}
	regs = append(regs, deps.Middlewares...)
	global, err := s.buildMiddlewares(regs)
	if err != nil {
		return nil, err
	}

	s.dispatcher = dispatch.New(desc.Name, dispatch.Options{
		Logger:     log,
		Middleware: global,
		OnError:    s.reportError,
	})
	if err := s.dispatcher.Add(entries...); err != nil {
		return nil, err
	}

	s.adapters, err = resolveAdapters(conf, log, desc.Name, deps)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// resolveAdapters merges explicit adapters, the ones enabled on the class
// binding and the ones named in the config. An explicit instance wins over a
// registry-built adapter of the same name.
func resolveAdapters(conf *configpkg.Config, log loggingpkg.ServiceLogger, service string, deps ServiceDependencies) ([]adapterSlot, error) {
	reg := deps.AdapterRegistry
	if reg == nil {
		reg = adapter.DefaultRegistry
	}
	class := deps.Registry.ClassBinding(service)

	var slots []adapterSlot
	seen := map[string]bool{}
	for _, a := range deps.Adapters {
		if a == nil {
			continue
		}
		if seen[a.Name()] {
			loggingpkg.Warn(log, "Adapter passed twice, keeping the first", loggingpkg.LogFields{"adapter": a.Name()})
			continue
		}
		seen[a.Name()] = true
		slots = append(slots, adapterSlot{adapter: a, options: class[a.Name()].Options})
	}

	classNames := make([]string, 0, len(class))
	for name := range class {
		classNames = append(classNames, name)
	}
	sort.Strings(classNames)
	for _, name := range classNames {
		if !class.Enabled(name) || seen[name] {
			continue
		}
		if !reg.Has(name) {
			loggingpkg.Warn(log, "Transport enabled on the service but no adapter is registered", loggingpkg.LogFields{"adapter": name})
			continue
		}
		a, err := reg.Build(name)
		if err != nil {
			return nil, err
		}
		seen[name] = true
		slots = append(slots, adapterSlot{adapter: a, options: class[name].Options})
	}

	for _, name := range conf.Adapters {
		if seen[name] {
			continue
		}
		a, err := reg.Build(name)
		if err != nil {
			return nil, err
		}
		seen[name] = true
		slots = append(slots, adapterSlot{adapter: a, options: class[name].Options})
	}
	return slots, nil
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Dispatcher exposes the compiled routes.
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Adapters lists the names of the adapters the service runs.
func (s *Service) Adapters() []string {
	names := make([]string, len(s.adapters))
	for i, slot := range s.adapters {
		names[i] = slot.adapter.Name()
	}
	return names
}

// Subscribe adds hooks after the ones already registered.
func (s *Service) Subscribe(h LifecycleHooks) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = s.hooks.Merge(h)
}

func (s *Service) currentHooks() LifecycleHooks {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	return s.hooks
}

func (s *Service) event(err error) LifecycleEvent {
	return LifecycleEvent{Service: s.name, Adapters: s.Adapters(), At: time.Now(), Err: err}
}

func (s *Service) reportError(c *dispatch.Context, err error) {
	fire(s.currentHooks().OnError, ErrorEvent{
		Service:    s.name,
		Method:     c.Entry.Name,
		Transport:  c.Transport,
		Err:        err,
		Invocation: c,
	})
}

// Dispatch runs a request through the service without an adapter.
func (s *Service) Dispatch(ctx context.Context, req dispatch.Request) (any, error) {
	return s.dispatcher.Dispatch(ctx, req)
}

// Start initializes every adapter, then listens on all of them until ctx is
// cancelled or every adapter has finished, and stops the service before
// returning. An adapter that fails
// to initialize or to listen aborts the service with a
// *errors.TransportStartupError.
func (s *Service) Start(ctx context.Context) error {
	s.stateMu.Lock()
	if s.started {
		s.stateMu.Unlock()
		return errors.New("polyflow: service already started")
	}
	s.started = true
	s.stateMu.Unlock()

	hooks := s.currentHooks()
	fire(hooks.OnBeforeStart, s.event(nil))

	for i, slot := range s.adapters {
		env := adapter.Env{
			Service:    s.name,
			Dispatcher: s.dispatcher,
			Config:     s.Conf,
			Logger:     s.Logger,
			Options:    slot.options,
		}
		if err := slot.adapter.Initialize(ctx, env); err != nil {
			s.closeAdapters(context.Background(), s.adapters[:i])
			return &errspkg.TransportStartupError{Adapter: slot.adapter.Name(), Err: err}
		}
	}
	s.registerIntrospection()
	if err := s.startHTTPServers(); err != nil {
		s.closeAdapters(context.Background(), s.adapters)
		return err
	}

	fire(s.currentHooks().OnAfterStart, s.event(nil))

	g, gctx := errgroup.WithContext(ctx)
	for _, slot := range s.adapters {
		a := slot.adapter
		g.Go(func() error {
			err := a.Listen(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return &errspkg.TransportStartupError{Adapter: a.Name(), Err: err}
		})
	}
	if len(s.adapters) == 0 {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}
	listenErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopErr := s.Stop(stopCtx)
	if listenErr != nil {
		return listenErr
	}
	return stopErr
}

// Stop closes every adapter in reverse start order and the auxiliary HTTP
// servers. In-flight invocations are not awaited. Calling Stop more than once
// returns the first result.
func (s *Service) Stop(ctx context.Context) error {
	s.stateMu.Lock()
	if s.stopped {
		s.stateMu.Unlock()
		<-s.stopDone
		return s.stopErr
	}
	s.stopped = true
	s.stateMu.Unlock()

	fire(s.currentHooks().OnBeforeStop, s.event(nil))
	err := errors.Join(s.closeAdapters(ctx, s.adapters), s.stopHTTPServers(ctx))
	fire(s.currentHooks().OnAfterStop, s.event(err))

	s.stopErr = err
	close(s.stopDone)
	return err
}

func (s *Service) closeAdapters(ctx context.Context, slots []adapterSlot) error {
	var errs []error
	for i := len(slots) - 1; i >= 0; i-- {
		a := slots[i].adapter
		if err := a.Close(ctx); err != nil {
			s.Logger.Error("Failed to close adapter", err, loggingpkg.LogFields{"adapter": a.Name()})
			errs = append(errs, fmt.Errorf("close %s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) statsFor(method string) *HandlerStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st, ok := s.stats[method]
	if !ok {
		st = newHandlerStats(s.sampler)
		s.stats[method] = st
	}
	return st
}

// RegisterHTTPHandler mounts handler on an auxiliary server listening on
// port. Servers are started by Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()
	r, ok := s.httpRouters[port]
	if !ok {
		r = chi.NewRouter()
		s.httpRouters[port] = r
	}
	r.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() error {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()

	ports := make([]int, 0, len(s.httpRouters))
	for port := range s.httpRouters {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	// A port that fails to bind releases every server opened before it.
	var started []*http.Server
	var listeners []net.Listener
	for _, port := range ports {
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for i, srv := range started {
				_ = srv.Close()
				_ = listeners[i].Close()
			}
			return &errspkg.TransportStartupError{Adapter: "http:" + addr, Err: err}
		}
		srv := &http.Server{Handler: s.httpRouters[port], ReadHeaderTimeout: 10 * time.Second}
		started = append(started, srv)
		listeners = append(listeners, ln)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": addr})
			}
		}()
	}
	s.httpServers = append(s.httpServers, started...)
	return nil
}

func (s *Service) stopHTTPServers(ctx context.Context) error {
	s.httpMu.Lock()
	servers := s.httpServers
	s.httpServers = nil
	s.httpMu.Unlock()

	var errs []error
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
