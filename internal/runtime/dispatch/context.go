package dispatch

import (
	"context"
	"sync"

	"github.com/drblury/polyflow/internal/runtime/binding"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
)

// Context is the per-request state threaded through middleware and into the
// handler. It is created for one inbound message and dropped afterwards.
type Context struct {
	ctx context.Context

	Service   string
	Transport string
	Entry     *Entry
	Binding   binding.MethodBinding
	View      RequestView
	Args      []any
	Result    any
	Metadata  metadatapkg.Metadata
	Logger    loggingpkg.ServiceLogger

	entries map[string]*Entry

	mu     sync.RWMutex
	values map[string]any

	chain   []Middleware
	final   func(*Context) (any, error)
	index   int
	invoked bool
}

// Context returns the request's context.Context.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// SetContext replaces the context seen by later middleware and the handler.
func (c *Context) SetContext(ctx context.Context) {
	if ctx != nil {
		c.ctx = ctx
	}
}

// Entries returns the service's compiled entries keyed by method name.
// The map is shared and must not be modified.
func (c *Context) Entries() map[string]*Entry {
	return c.entries
}

// Set stores a request scoped value for later middleware or the handler.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Invoked reports whether the handler was reached.
func (c *Context) Invoked() bool {
	return c.invoked
}

// Next advances to the next middleware, or runs the handler once every
// middleware has been entered. Calling it again after the handler ran is a
// no-op.
func (c *Context) Next() error {
	if c.index < len(c.chain) {
		mw := c.chain[c.index]
		c.index++
		return mw(c)
	}
	if c.index > len(c.chain) || c.final == nil {
		return nil
	}
	c.index++
	c.invoked = true
	result, err := c.final(c)
	if err != nil {
		return err
	}
	c.Result = result
	return nil
}
