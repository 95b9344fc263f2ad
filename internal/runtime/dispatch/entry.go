package dispatch

import (
	"sort"

	"github.com/drblury/polyflow/internal/runtime/binding"
)

// HandlerFunc is a compiled service method. args has one slot per declared
// parameter, in parameter order.
type HandlerFunc func(c *Context, args ...any) (any, error)

// Middleware wraps an invocation. Code before c.Next runs on the way in and
// code after it on the way out. Returning without calling Next stops the
// chain and the handler never runs.
type Middleware func(c *Context) error

// Entry is one compiled, transport-agnostic handler.
type Entry struct {
	Name     string
	Service  string
	Handler  HandlerFunc
	Arity    int
	Bindings map[binding.Tag]binding.MethodBinding
	Params   []binding.ParameterBinding
	// Middleware holds the resolved named middleware of each binding.
	Middleware map[binding.Tag][]Middleware
}

// Binding returns the binding registered under tag.
func (e *Entry) Binding(tag binding.Tag) (binding.MethodBinding, bool) {
	b, ok := e.Bindings[tag]
	return b, ok
}

// Tags lists the entry's tags in sorted order.
func (e *Entry) Tags() []binding.Tag {
	tags := make([]binding.Tag, 0, len(e.Bindings))
	for tag := range e.Bindings {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// BodyParams returns the parameter bindings that read from the body, whole
// or by field.
func (e *Entry) BodyParams() []binding.ParameterBinding {
	var out []binding.ParameterBinding
	for _, p := range e.Params {
		if p.Source == binding.SourceBody {
			out = append(out, p)
		}
	}
	return out
}

// Route is one dispatchable (tag, target) pair.
type Route struct {
	Tag     binding.Tag
	Target  string
	Entry   *Entry
	Binding binding.MethodBinding
}
