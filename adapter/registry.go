package adapter

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
)

// Builder creates a fresh, uninitialized adapter.
type Builder func() Adapter

// Registry maps adapter names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is where adapter packages register themselves on import.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds or replaces a builder.
func (r *Registry) Register(name string, builder Builder) error {
	if name == "" {
		return errspkg.ErrAdapterNameRequired
	}
	if builder == nil {
		return fmt.Errorf("adapter %q: builder is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	return nil
}

// Build creates the named adapter.
func (r *Registry) Build(name string) (Adapter, error) {
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unknown adapter %q (registered: %v)", name, r.Names())
	}
	return builder(), nil
}

// Names lists the registered adapters in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a builder to DefaultRegistry and panics on invalid input,
// which only happens from init functions.
func Register(name string, builder Builder) {
	if err := DefaultRegistry.Register(name, builder); err != nil {
		panic(err)
	}
}

// Build uses DefaultRegistry.
func Build(name string) (Adapter, error) {
	return DefaultRegistry.Build(name)
}
