// Package adapter defines the contract between the orchestrator and the
// transports that expose a service: CLI, HTTP, socket RPC, streaming and
// tool calls.
//
// An adapter owns a set of protocol tags. For every inbound message it builds
// a dispatch.RequestView, looks the target up on the dispatcher, answers a
// miss with its own "not found" response and otherwise hands the request to
// the dispatcher and writes the result back. Adapters do not share in-flight
// state with each other.
package adapter

import (
	"context"

	configpkg "github.com/drblury/polyflow/internal/runtime/config"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
)

// Adapter is one transport. The orchestrator calls Initialize once, then
// Listen, and Close on shutdown. Listen blocks until ctx is cancelled or the
// adapter has nothing more to serve.
type Adapter interface {
	Name() string
	Initialize(ctx context.Context, env Env) error
	Listen(ctx context.Context) error
	Close(ctx context.Context) error
}

// Env is what an adapter receives at initialization.
type Env struct {
	Service    string
	Dispatcher *dispatch.Dispatcher
	Config     *configpkg.Config
	Logger     loggingpkg.ServiceLogger
	// Options come from the service's class binding for this adapter.
	Options map[string]any
}

// Log returns the env logger tagged with the adapter name.
func (e Env) Log(adapter string) loggingpkg.ServiceLogger {
	return loggingpkg.OrNop(e.Logger).With(loggingpkg.LogFields{
		"service": e.Service,
		"adapter": adapter,
	})
}

// Conf returns the env config, or an empty one.
func (e Env) Conf() *configpkg.Config {
	if e.Config == nil {
		return &configpkg.Config{}
	}
	return e.Config
}

// String reads a string option.
func (e Env) String(key, fallback string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Bool reads a boolean option.
func (e Env) Bool(key string, fallback bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return fallback
}
