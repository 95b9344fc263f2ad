package binding

import (
	"sync"

	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	schemapkg "github.com/drblury/polyflow/internal/runtime/schema"
)

// TransportConfig enables one transport for a service type.
type TransportConfig struct {
	Enabled bool
	Options map[string]any
}

// ClassBinding maps transport names to their configuration.
type ClassBinding map[string]TransportConfig

// Enabled reports whether the named transport is switched on.
func (c ClassBinding) Enabled(name string) bool {
	cfg, ok := c[name]
	return ok && cfg.Enabled
}

// MethodBinding exposes a method on one protocol.
type MethodBinding struct {
	Tag Tag
	// Target is the protocol identifier: command or tool name, rpc method,
	// event name, HTTP path or stream topic.
	Target      string
	Description string
	Schema      schemapkg.Validator
	Disabled    bool
	// Middleware names are resolved against the service's named middleware
	// table at compile time and run after the global chain.
	Middleware []string
	Options    map[string]any
}

// Option reads a raw option value.
func (b MethodBinding) Option(key string) (any, bool) {
	v, ok := b.Options[key]
	return v, ok
}

// ParameterBinding names the source of one positional parameter. Key selects
// a single field of the source; an empty Key binds the whole container. For
// SourceArgs the Key is the decimal position in the argument list.
type ParameterBinding struct {
	Index  int
	Source Source
	Key    string
}

type methodRecord struct {
	bindings map[Tag]MethodBinding
	params   []ParameterBinding
}

type typeRecord struct {
	class   ClassBinding
	methods map[string]*methodRecord
	order   []string
}

// Registry stores binding records per service type. It is safe for
// concurrent use; every write swaps in a fresh map or slice so values handed
// out by accessors stay stable.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*typeRecord
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*typeRecord)}
}

func (r *Registry) typeLocked(typeName string) *typeRecord {
	rec, ok := r.types[typeName]
	if !ok {
		rec = &typeRecord{class: ClassBinding{}, methods: make(map[string]*methodRecord)}
		r.types[typeName] = rec
		r.order = append(r.order, typeName)
	}
	return rec
}

func (t *typeRecord) methodLocked(name string) *methodRecord {
	rec, ok := t.methods[name]
	if !ok {
		rec = &methodRecord{bindings: map[Tag]MethodBinding{}}
		t.methods[name] = rec
		t.order = append(t.order, name)
	}
	return rec
}

// RecordClassBinding shallow-merges partial into the type's class binding.
// Keys absent from partial are left untouched.
func (r *Registry) RecordClassBinding(typeName string, partial ClassBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.typeLocked(typeName)
	merged := make(ClassBinding, len(rec.class)+len(partial))
	for k, v := range rec.class {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	rec.class = merged
}

// RecordMethodBinding stores b under b.Tag for the method. Bindings stored
// under other tags are kept.
func (r *Registry) RecordMethodBinding(typeName, method string, b MethodBinding) error {
	if method == "" {
		return errspkg.ErrMethodNameRequired
	}
	if b.Tag == "" {
		return errspkg.ErrTagRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.typeLocked(typeName).methodLocked(method)
	next := make(map[Tag]MethodBinding, len(rec.bindings)+1)
	for k, v := range rec.bindings {
		next[k] = v
	}
	next[b.Tag] = b
	rec.bindings = next
	return nil
}

// RecordParameterBinding appends p to the method's parameter list. Index
// bounds are checked by the handler compiler, not here.
func (r *Registry) RecordParameterBinding(typeName, method string, p ParameterBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.typeLocked(typeName).methodLocked(method)
	next := make([]ParameterBinding, len(rec.params), len(rec.params)+1)
	copy(next, rec.params)
	rec.params = append(next, p)
}

// ClassBinding returns the type's class binding. Callers must not mutate it.
func (r *Registry) ClassBinding(typeName string) ClassBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.types[typeName]; ok {
		return rec.class
	}
	return nil
}

// MethodBindings returns the method's bindings keyed by tag. Callers must not
// mutate the map.
func (r *Registry) MethodBindings(typeName, method string) map[Tag]MethodBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.types[typeName]; ok {
		if m, ok := rec.methods[method]; ok {
			return m.bindings
		}
	}
	return nil
}

// ParameterBindings returns the method's parameter bindings in declaration
// order. Callers must not mutate the slice.
func (r *Registry) ParameterBindings(typeName, method string) []ParameterBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.types[typeName]; ok {
		if m, ok := rec.methods[method]; ok {
			return m.params
		}
	}
	return nil
}

// Methods lists the methods that have any record, in first-seen order.
func (r *Registry) Methods(typeName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.types[typeName]
	if !ok {
		return nil
	}
	out := make([]string, len(rec.order))
	copy(out, rec.order)
	return out
}

// Types lists the registered service types in first-seen order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
