package handlers

import (
	"errors"
	"fmt"

	"github.com/drblury/polyflow/internal/runtime/binding"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
)

// MethodDesc describes one callable method of a service.
type MethodDesc struct {
	Name    string
	Arity   int
	Handler dispatch.HandlerFunc
}

// ServiceDesc lists the methods a service exposes to the compiler. Name is
// the type name bindings were recorded under.
type ServiceDesc struct {
	Name    string
	Methods []MethodDesc
}

// Describer is implemented by services that describe themselves.
type Describer interface {
	Describe() ServiceDesc
}

// Options configures Compile.
type Options struct {
	Registry *binding.Registry
	// Middleware resolves the names listed on method bindings.
	Middleware map[string]dispatch.Middleware
	Logger     loggingpkg.ServiceLogger
}

// Compile builds one dispatch entry per method that has at least one binding.
// Methods without bindings are skipped. A method listed twice keeps its last
// definition. Parameter indices must be unique and inside the method's arity
// and middleware names must resolve; violations are returned together.
func Compile(desc ServiceDesc, opts Options) ([]*dispatch.Entry, error) {
	if desc.Name == "" {
		return nil, errspkg.ErrServiceNameRequired
	}
	if opts.Registry == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	log := loggingpkg.OrNop(opts.Logger).With(loggingpkg.LogFields{"service": desc.Name})

	order := make([]string, 0, len(desc.Methods))
	methods := make(map[string]MethodDesc, len(desc.Methods))
	for _, m := range desc.Methods {
		if _, dup := methods[m.Name]; dup {
			loggingpkg.Warn(log, "Method described twice, keeping the latest", loggingpkg.LogFields{"method": m.Name})
		} else {
			order = append(order, m.Name)
		}
		methods[m.Name] = m
	}

	var (
		entries []*dispatch.Entry
		errs    []error
	)
	for _, name := range order {
		m := methods[name]
		bindings := opts.Registry.MethodBindings(desc.Name, name)
		if len(bindings) == 0 {
			log.Debug("Method has no bindings, skipping", loggingpkg.LogFields{"method": name})
			continue
		}
		entry, err := compileMethod(desc.Name, m, bindings, opts, log)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, entry)
	}

	for _, name := range opts.Registry.Methods(desc.Name) {
		if _, ok := methods[name]; !ok && len(opts.Registry.MethodBindings(desc.Name, name)) > 0 {
			loggingpkg.Warn(log, "Bindings declared for a method the service does not describe", loggingpkg.LogFields{"method": name})
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return entries, nil
}

func compileMethod(service string, m MethodDesc, bindings map[binding.Tag]binding.MethodBinding, opts Options, log loggingpkg.ServiceLogger) (*dispatch.Entry, error) {
	regErr := func(err error) error {
		return &errspkg.RegistrationError{Service: service, Method: m.Name, Err: err}
	}
	if m.Handler == nil {
		return nil, regErr(errspkg.ErrHandlerRequired)
	}
	if m.Arity < 0 {
		return nil, regErr(fmt.Errorf("negative arity %d", m.Arity))
	}

	params := opts.Registry.ParameterBindings(service, m.Name)
	seen := make(map[int]bool, len(params))
	readsBody := false
	for _, p := range params {
		if p.Index < 0 || p.Index >= m.Arity {
			return nil, regErr(fmt.Errorf("parameter index %d outside arity %d", p.Index, m.Arity))
		}
		if seen[p.Index] {
			return nil, regErr(fmt.Errorf("parameter index %d bound twice", p.Index))
		}
		seen[p.Index] = true
		if p.Source == binding.SourceBody {
			readsBody = true
		}
	}

	middleware := make(map[binding.Tag][]dispatch.Middleware, len(bindings))
	for tag, b := range bindings {
		if b.Schema != nil && !readsBody {
			loggingpkg.Warn(log, "Schema declared but no parameter receives the body", loggingpkg.LogFields{
				"method": m.Name,
				"tag":    string(tag),
			})
		}
		for _, name := range b.Middleware {
			mw, ok := opts.Middleware[name]
			if !ok || mw == nil {
				return nil, regErr(fmt.Errorf("unknown middleware %q on %s binding", name, tag))
			}
			middleware[tag] = append(middleware[tag], mw)
		}
	}

	return &dispatch.Entry{
		Name:       m.Name,
		Service:    service,
		Handler:    m.Handler,
		Arity:      m.Arity,
		Bindings:   bindings,
		Params:     params,
		Middleware: middleware,
	}, nil
}
