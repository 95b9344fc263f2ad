package binding

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	schemapkg "github.com/drblury/polyflow/internal/runtime/schema"
)

// Option customises a MethodBinding recorded through the builder.
type Option func(*MethodBinding)

// WithSchema validates the whole-body parameter against v before invocation.
func WithSchema(v schemapkg.Validator) Option {
	return func(b *MethodBinding) { b.Schema = v }
}

// WithDescription sets the text shown in CLI help and tool listings.
func WithDescription(text string) Option {
	return func(b *MethodBinding) { b.Description = text }
}

// WithMiddleware appends named middleware to the binding.
func WithMiddleware(names ...string) Option {
	return func(b *MethodBinding) { b.Middleware = append(b.Middleware, names...) }
}

// WithOption stores a protocol specific option.
func WithOption(key string, value any) Option {
	return func(b *MethodBinding) {
		if b.Options == nil {
			b.Options = map[string]any{}
		}
		b.Options[key] = value
	}
}

// Disabled records the binding but keeps it out of dispatch.
func Disabled() Option {
	return func(b *MethodBinding) { b.Disabled = true }
}

// ServiceBuilder declares bindings for one service type.
type ServiceBuilder struct {
	reg      *Registry
	typeName string
	errs     []error
}

// For starts declaring bindings for typeName on reg.
func For(reg *Registry, typeName string) *ServiceBuilder {
	return &ServiceBuilder{reg: reg, typeName: typeName}
}

// Transport enables or disables a transport for the whole type.
func (s *ServiceBuilder) Transport(name string, enabled bool, options map[string]any) *ServiceBuilder {
	s.reg.RecordClassBinding(s.typeName, ClassBinding{name: {Enabled: enabled, Options: options}})
	return s
}

// Method starts declaring bindings for a method.
func (s *ServiceBuilder) Method(name string) *MethodBuilder {
	return &MethodBuilder{svc: s, name: name}
}

// Err returns every error collected while declaring bindings.
func (s *ServiceBuilder) Err() error {
	return errors.Join(s.errs...)
}

// MethodBuilder declares the protocol and parameter bindings of one method.
type MethodBuilder struct {
	svc  *ServiceBuilder
	name string
}

// Method moves on to the next method of the same service.
func (m *MethodBuilder) Method(name string) *MethodBuilder {
	return m.svc.Method(name)
}

// Done returns the service builder.
func (m *MethodBuilder) Done() *ServiceBuilder {
	return m.svc
}

// Err is a shortcut for Done().Err().
func (m *MethodBuilder) Err() error {
	return m.svc.Err()
}

// Bind records a binding for an arbitrary tag.
func (m *MethodBuilder) Bind(tag Tag, target string, opts ...Option) *MethodBuilder {
	b := MethodBinding{Tag: tag, Target: target}
	for _, opt := range opts {
		opt(&b)
	}
	if target == "" {
		m.fail(fmt.Errorf("%s binding needs a target", tag))
		return m
	}
	if err := m.svc.reg.RecordMethodBinding(m.svc.typeName, m.name, b); err != nil {
		m.fail(err)
	}
	return m
}

func (m *MethodBuilder) Command(name string, opts ...Option) *MethodBuilder {
	return m.Bind(TagCommand, name, opts...)
}

func (m *MethodBuilder) Tool(name string, opts ...Option) *MethodBuilder {
	return m.Bind(TagTool, name, opts...)
}

func (m *MethodBuilder) RPC(name string, opts ...Option) *MethodBuilder {
	return m.Bind(TagRPC, name, opts...)
}

func (m *MethodBuilder) Event(name string, opts ...Option) *MethodBuilder {
	return m.Bind(TagEvent, name, opts...)
}

func (m *MethodBuilder) Stream(topic string, opts ...Option) *MethodBuilder {
	return m.Bind(TagStream, topic, opts...)
}

// HTTP binds the method to verb + path. Paths use chi syntax ("/users/{id}").
func (m *MethodBuilder) HTTP(verb, path string, opts ...Option) *MethodBuilder {
	if !strings.HasPrefix(path, "/") {
		m.fail(fmt.Errorf("%s %q: HTTP path must begin with '/'", verb, path))
		return m
	}
	return m.Bind(HTTPTag(verb), path, opts...)
}

func (m *MethodBuilder) Get(path string, opts ...Option) *MethodBuilder {
	return m.HTTP(http.MethodGet, path, opts...)
}

func (m *MethodBuilder) Post(path string, opts ...Option) *MethodBuilder {
	return m.HTTP(http.MethodPost, path, opts...)
}

func (m *MethodBuilder) Put(path string, opts ...Option) *MethodBuilder {
	return m.HTTP(http.MethodPut, path, opts...)
}

func (m *MethodBuilder) Patch(path string, opts ...Option) *MethodBuilder {
	return m.HTTP(http.MethodPatch, path, opts...)
}

func (m *MethodBuilder) Delete(path string, opts ...Option) *MethodBuilder {
	return m.HTTP(http.MethodDelete, path, opts...)
}

// Param records a parameter binding.
func (m *MethodBuilder) Param(index int, source Source, key string) *MethodBuilder {
	if !source.Valid() {
		m.fail(fmt.Errorf("parameter %d: unknown source %q", index, source))
		return m
	}
	m.svc.reg.RecordParameterBinding(m.svc.typeName, m.name, ParameterBinding{Index: index, Source: source, Key: key})
	return m
}

// Body binds the whole payload; this is the parameter schemas validate.
func (m *MethodBuilder) Body(index int) *MethodBuilder {
	return m.Param(index, SourceBody, "")
}

func (m *MethodBuilder) BodyField(index int, key string) *MethodBuilder {
	return m.Param(index, SourceBody, key)
}

func (m *MethodBuilder) Query(index int, key string) *MethodBuilder {
	return m.Param(index, SourceQuery, key)
}

func (m *MethodBuilder) Header(index int, key string) *MethodBuilder {
	return m.Param(index, SourceHeader, key)
}

func (m *MethodBuilder) Cookie(index int, key string) *MethodBuilder {
	return m.Param(index, SourceCookie, key)
}

func (m *MethodBuilder) Path(index int, key string) *MethodBuilder {
	return m.Param(index, SourcePath, key)
}

func (m *MethodBuilder) Session(index int, key string) *MethodBuilder {
	return m.Param(index, SourceSession, key)
}

func (m *MethodBuilder) File(index int, key string) *MethodBuilder {
	return m.Param(index, SourceFile, key)
}

func (m *MethodBuilder) Context(index int) *MethodBuilder {
	return m.Param(index, SourceContext, "")
}

func (m *MethodBuilder) Request(index int) *MethodBuilder {
	return m.Param(index, SourceRequest, "")
}

func (m *MethodBuilder) Response(index int) *MethodBuilder {
	return m.Param(index, SourceResponse, "")
}

// Arg binds parameter index to the positional argument at the same position.
func (m *MethodBuilder) Arg(index int) *MethodBuilder {
	return m.ArgAt(index, index)
}

// ArgAt binds parameter index to the positional argument at position.
func (m *MethodBuilder) ArgAt(index, position int) *MethodBuilder {
	return m.Param(index, SourceArgs, strconv.Itoa(position))
}

// Args binds the whole positional argument list.
func (m *MethodBuilder) Args(index int) *MethodBuilder {
	return m.Param(index, SourceArgs, "")
}

func (m *MethodBuilder) fail(err error) {
	m.svc.errs = append(m.svc.errs, fmt.Errorf("%s.%s: %w", m.svc.typeName, m.name, err))
}
