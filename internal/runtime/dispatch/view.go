package dispatch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/drblury/polyflow/internal/runtime/binding"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
)

// RequestView is the transport-neutral picture of one inbound message.
// Adapters fill in what their wire carries and declare it in Supported.
type RequestView struct {
	Body     any
	Params   map[string]string
	Query    url.Values
	Headers  http.Header
	Cookies  map[string]string
	Session  map[string]any
	Files    map[string]any
	Args     []any
	Request  any
	Response any
	Context  context.Context

	Supported binding.SourceSet
}

// BindArguments builds the positional argument list for a handler of the
// given arity. Indices without a binding stay nil. A binding whose source the
// transport cannot provide also yields nil and a warning. The view is never
// modified, so binding the same view twice gives equal results.
func BindArguments(params []binding.ParameterBinding, arity int, view RequestView, log loggingpkg.ServiceLogger) []any {
	if arity < 0 {
		arity = 0
	}
	args := make([]any, arity)
	for _, p := range params {
		if p.Index < 0 || p.Index >= arity {
			continue
		}
		if !view.Supported.Has(p.Source) {
			loggingpkg.Warn(loggingpkg.OrNop(log), "Parameter source not available on this transport", loggingpkg.LogFields{
				"index":  p.Index,
				"source": string(p.Source),
				"key":    p.Key,
			})
			continue
		}
		args[p.Index] = view.extract(p)
	}
	return args
}

func (v RequestView) extract(p binding.ParameterBinding) any {
	switch p.Source {
	case binding.SourceBody:
		if p.Key == "" {
			return v.Body
		}
		return field(v.Body, p.Key)
	case binding.SourcePath:
		if p.Key == "" {
			return v.Params
		}
		if val, ok := v.Params[p.Key]; ok {
			return val
		}
	case binding.SourceQuery:
		if p.Key == "" {
			return v.Query
		}
		return single(v.Query[p.Key])
	case binding.SourceHeader:
		if p.Key == "" {
			return v.Headers
		}
		return single(v.Headers.Values(p.Key))
	case binding.SourceCookie:
		if p.Key == "" {
			return v.Cookies
		}
		if val, ok := v.Cookies[p.Key]; ok {
			return val
		}
	case binding.SourceSession:
		if p.Key == "" {
			return v.Session
		}
		return v.Session[p.Key]
	case binding.SourceFile:
		if p.Key == "" {
			return v.Files
		}
		return v.Files[p.Key]
	case binding.SourceContext:
		return v.Context
	case binding.SourceRequest:
		return v.Request
	case binding.SourceResponse:
		return v.Response
	case binding.SourceArgs:
		if p.Key == "" {
			return v.Args
		}
		pos, err := strconv.Atoi(p.Key)
		if err != nil || pos < 0 || pos >= len(v.Args) {
			return nil
		}
		return v.Args[pos]
	}
	return nil
}

func field(body any, key string) any {
	switch typed := body.(type) {
	case map[string]any:
		return typed[key]
	case map[string]string:
		if val, ok := typed[key]; ok {
			return val
		}
	}
	return nil
}

func single(values []string) any {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	default:
		out := make([]string, len(values))
		copy(out, values)
		return out
	}
}
