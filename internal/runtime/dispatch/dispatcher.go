package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/drblury/polyflow/internal/runtime/binding"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
)

// Request is what an adapter hands to the dispatcher for one message.
type Request struct {
	Tag       binding.Tag
	Target    string
	Transport string
	View      RequestView
	Metadata  metadatapkg.Metadata
	// Values seeds Context values, e.g. the raw CLI line or a socket call id.
	Values map[string]any
	// Held, when set, holds back the OnError callback for an execution
	// failure until the caller fires it.
	Held *HeldReport
}

// HeldReport carries an OnError notification whose delivery the adapter
// postpones, typically until its last retry has failed.
type HeldReport struct {
	once sync.Once
	fire func()
}

// Fire delivers the held notification at most once. Nothing happens when the
// invocation did not fail.
func (h *HeldReport) Fire() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.fire != nil {
			h.fire()
		}
	})
}

// Options configures a Dispatcher.
type Options struct {
	Logger loggingpkg.ServiceLogger
	// Middleware runs before every binding specific middleware.
	Middleware []Middleware
	// OnError observes handler and middleware failures. Validation and
	// not-found outcomes are answered by the adapter and not reported here.
	OnError func(c *Context, err error)
}

// Dispatcher routes (tag, target) pairs to compiled entries and runs the
// bind, validate, middleware and invoke pipeline.
type Dispatcher struct {
	service string
	logger  loggingpkg.ServiceLogger
	global  []Middleware
	onError func(*Context, error)

	mu      sync.RWMutex
	entries map[string]*Entry
	routes  map[binding.Tag]map[string]Route
}

// New creates an empty dispatcher for service.
func New(service string, opts Options) *Dispatcher {
	return &Dispatcher{
		service: service,
		logger:  loggingpkg.OrNop(opts.Logger),
		global:  append([]Middleware(nil), opts.Middleware...),
		onError: opts.OnError,
		entries: make(map[string]*Entry),
		routes:  make(map[binding.Tag]map[string]Route),
	}
}

// Service returns the name the dispatcher serves.
func (d *Dispatcher) Service() string { return d.service }

// Add indexes entries. An entry replaces a previous one with the same name,
// and a route claimed twice goes to the later entry; both cases are logged.
// Disabled bindings are never routed.
func (d *Dispatcher) Add(entries ...*Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	nextEntries := make(map[string]*Entry, len(d.entries)+len(entries))
	for k, v := range d.entries {
		nextEntries[k] = v
	}
	nextRoutes := make(map[binding.Tag]map[string]Route, len(d.routes))
	for tag, byTarget := range d.routes {
		nextRoutes[tag] = byTarget
	}
	touched := map[binding.Tag]bool{}

	for _, entry := range entries {
		if entry == nil || entry.Handler == nil {
			return errspkg.ErrHandlerRequired
		}
		if entry.Name == "" {
			return errspkg.ErrMethodNameRequired
		}
		if prev, ok := nextEntries[entry.Name]; ok {
			loggingpkg.Warn(d.logger, "Handler registered twice, keeping the latest", loggingpkg.LogFields{
				"service": d.service,
				"method":  entry.Name,
			})
			for tag := range prev.Bindings {
				d.dropRoutes(nextRoutes, touched, tag, prev)
			}
		}
		nextEntries[entry.Name] = entry

		for _, tag := range entry.Tags() {
			b := entry.Bindings[tag]
			if b.Disabled {
				continue
			}
			if !touched[tag] {
				nextRoutes[tag] = cloneRoutes(nextRoutes[tag])
				touched[tag] = true
			}
			if existing, ok := nextRoutes[tag][b.Target]; ok && existing.Entry.Name != entry.Name {
				loggingpkg.Warn(d.logger, "Route claimed by several handlers, keeping the latest", loggingpkg.LogFields{
					"service":  d.service,
					"tag":      string(tag),
					"target":   b.Target,
					"previous": existing.Entry.Name,
					"method":   entry.Name,
				})
			}
			nextRoutes[tag][b.Target] = Route{Tag: tag, Target: b.Target, Entry: entry, Binding: b}
		}
	}

	d.entries = nextEntries
	d.routes = nextRoutes
	return nil
}

func (d *Dispatcher) dropRoutes(routes map[binding.Tag]map[string]Route, touched map[binding.Tag]bool, tag binding.Tag, prev *Entry) {
	if !touched[tag] {
		routes[tag] = cloneRoutes(routes[tag])
		touched[tag] = true
	}
	for target, r := range routes[tag] {
		if r.Entry == prev {
			delete(routes[tag], target)
		}
	}
}

func cloneRoutes(in map[string]Route) map[string]Route {
	out := make(map[string]Route, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Entries returns the compiled entries keyed by method name. The map must
// not be modified.
func (d *Dispatcher) Entries() map[string]*Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries
}

// Lookup finds the route for tag and target.
func (d *Dispatcher) Lookup(tag binding.Tag, target string) (Route, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.routes[tag][target]
	return r, ok
}

// Routes lists the routes of the given tags, or of every tag when none are
// given, ordered by tag then target.
func (d *Dispatcher) Routes(tags ...binding.Tag) []Route {
	d.mu.RLock()
	defer d.mu.RUnlock()

	want := map[binding.Tag]bool{}
	for _, tag := range tags {
		want[tag] = true
	}
	var out []Route
	for tag, byTarget := range d.routes {
		if len(want) > 0 && !want[tag] {
			continue
		}
		for _, r := range byTarget {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// HTTPRoutes lists every route bound to an HTTP verb.
func (d *Dispatcher) HTTPRoutes() []Route {
	var out []Route
	for _, r := range d.Routes() {
		if r.Tag.IsHTTP() {
			out = append(out, r)
		}
	}
	return out
}

// Dispatch looks up the route for req and invokes it. A miss returns a
// *errors.HandlerNotFoundError.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	route, ok := d.Lookup(req.Tag, req.Target)
	if !ok {
		return nil, &errspkg.HandlerNotFoundError{Tag: string(req.Tag), Target: req.Target}
	}
	return d.Invoke(ctx, route, req)
}

// Invoke runs the pipeline for a route that was already looked up.
func (d *Dispatcher) Invoke(ctx context.Context, route Route, req Request) (result any, err error) {
	entry := route.Entry
	log := d.logger.With(loggingpkg.LogFields{
		"service":   d.service,
		"method":    entry.Name,
		"transport": req.Transport,
	})

	if req.View.Context == nil {
		req.View.Context = ctx
	}
	c := &Context{
		ctx:       ctx,
		Service:   d.service,
		Transport: req.Transport,
		Entry:     entry,
		Binding:   route.Binding,
		View:      req.View,
		Metadata:  req.Metadata.Clone(),
		Logger:    log,
		entries:   d.Entries(),
	}
	for k, v := range req.Values {
		c.Set(k, v)
	}

	c.Args = BindArguments(entry.Params, entry.Arity, req.View, log)
	if err := validateBody(c, route.Binding); err != nil {
		log.Debug("Payload rejected", loggingpkg.LogFields{"error": err.Error()})
		return nil, err
	}

	chain := make([]Middleware, 0, len(d.global)+len(entry.Middleware[route.Tag]))
	chain = append(chain, d.global...)
	chain = append(chain, entry.Middleware[route.Tag]...)
	c.chain = chain
	c.final = func(c *Context) (any, error) {
		return entry.Handler(c, c.Args...)
	}

	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.HandlerExecutionError{Method: entry.Name, Panic: true, Err: fmt.Errorf("%v", r)}
			result = nil
			d.reportError(c, err, req.Held)
		}
	}()

	if runErr := c.Next(); runErr != nil {
		if errspkg.IsValidation(runErr) || errspkg.IsNotFound(runErr) {
			return nil, runErr
		}
		var exec *errspkg.HandlerExecutionError
		if !errors.As(runErr, &exec) {
			runErr = &errspkg.HandlerExecutionError{Method: entry.Name, Err: runErr}
		}
		d.reportError(c, runErr, req.Held)
		return nil, runErr
	}
	return c.Result, nil
}

func (d *Dispatcher) reportError(c *Context, err error, held *HeldReport) {
	c.Logger.Error("Handler failed", err, nil)
	if d.onError == nil {
		return
	}
	if held != nil {
		held.fire = func() { d.onError(c, err) }
		return
	}
	d.onError(c, err)
}

// validateBody runs the binding's schema once against the request body when
// any parameter reads from it. Whole-body parameters receive the coerced
// value, field parameters the matching field of it.
func validateBody(c *Context, b binding.MethodBinding) error {
	if b.Schema == nil || !c.View.Supported.Has(binding.SourceBody) {
		return nil
	}
	var targets []binding.ParameterBinding
	for _, p := range c.Entry.BodyParams() {
		if p.Index >= 0 && p.Index < len(c.Args) {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	validated, err := b.Schema.Validate(c.View.Body)
	if err != nil {
		if errspkg.IsValidation(err) {
			return err
		}
		verr := errspkg.NewValidationError()
		verr.Add(errspkg.RootField, err.Error())
		return verr
	}
	for _, p := range targets {
		if p.Key == "" {
			c.Args[p.Index] = validated
			continue
		}
		c.Args[p.Index] = field(validated, p.Key)
	}
	return nil
}
