/*
Package runtime hosts one handler set behind every configured adapter.

# Architecture Overview

A service is described once: a handlers.ServiceDesc lists the methods, and a
binding.Registry declares how each method is reached (rpc, command, http.GET,
tool, stream, event, ...) and where every parameter comes from. The runtime
compiles both into dispatch entries, installs a global middleware chain, and
hands the resulting dispatcher to each adapter.

# Package Structure

## Core Service (service.go)

The Service struct is the orchestrator. It wires together:
  - The compiled dispatcher
  - The global middleware chain
  - The adapter set, resolved from explicit instances, bindings and config
  - Auxiliary HTTP servers for metrics and the handler API

Start initializes every adapter in order, then runs all of them until the
context is cancelled. Stop closes them in reverse order.

## Middleware (middleware.go)

Global middleware, outermost first:
  - CorrelationID: every invocation carries a correlation id
  - LogInvocations: debug log per invocation
  - Tracer: OpenTelemetry span per invocation
  - Metrics: Prometheus counters and histograms
  - Stats: per-handler statistics for the handler API

TimeoutMiddleware and RequireMetadata are meant for per-binding use through
the named middleware table.

## Hooks (hooks.go)

Lifecycle callbacks around start and stop, plus OnError for failed
invocations.

## Stats & Monitoring (models.go, resources.go, webui.go)

  - Latency percentiles (p50, p95, p99)
  - Throughput over a sliding window
  - Error categorization
  - Resource usage sampling

# Sub-packages

  - binding/: protocol tags, bindings and the declaration builder
  - config/: service configuration with validation
  - dispatch/: routing table, request views and the invocation pipeline
  - errors/: sentinel errors and the error taxonomy
  - handlers/: typed method descriptors and the compiler
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling
  - logging/: logger interface and adapters
  - metadata/: invocation metadata
  - schema/: body validation

# Usage Example

	reg := binding.NewRegistry()
	binding.For(reg, "calculator").
		Method("add").RPC("add").Command("add").Arg(0).Arg(1)

	svc := runtime.NewService(cfg, logger, handlers.ServiceDesc{
		Name: "calculator",
		Methods: []handlers.MethodDesc{
			handlers.Method2("add", add),
		},
	}, runtime.ServiceDependencies{Registry: reg})

	_ = svc.Start(ctx)
*/
package runtime
