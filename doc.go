// Package polyflow exposes one set of service methods over many transports
// at once: a command line, HTTP endpoints, WebSocket RPC and events, pub/sub
// streams and Model Context Protocol tools.
//
// A service is described twice and only once per concern. A ServiceDesc lists
// the methods as plain Go functions (Method0 through Method3 convert bound
// values to the declared parameter types). A Registry, filled through For,
// declares how each method is reached (rpc, command, tool, event, stream or
// an HTTP verb and path) and where each parameter comes from (body, body
// field, path, query, header, cookie, positional args, ...). NewService
// compiles both into a dispatcher and hands it to every enabled adapter;
// Start initializes the adapters and serves until the context is cancelled.
//
// # Adapters
//
// Adapters register themselves on import. Import
// github.com/drblury/polyflow/adapter/adapters for all of them, or pick:
//   - adapter/cli: one-shot commands and an interactive prompt
//   - adapter/httpapi: chi router with JSON, form and multipart bodies
//   - adapter/socket: WebSocket call and event frames, plus a Go client
//   - adapter/stream: Watermill router over the brokers in transport/
//   - adapter/mcp: MCP tools over stdio or streamable HTTP
//
// An adapter runs when it is passed in ServiceDependencies.Adapters, enabled
// on the service's class binding (ServiceBuilder.Transport) or named in
// Config.Adapters.
//
// # Brokers
//
// The stream adapter reads Config.PubSubSystem and builds the matching broker:
//   - channel: in-memory Go channels (default)
//   - kafka: consumer groups on Kafka
//   - rabbitmq: AMQP durable queues
//   - nats: NATS core subjects
//   - jetstream: durable NATS JetStream consumers
//   - aws: SNS topics fanned out to SQS queues, with LocalStack support
//   - http: webhook style publishing and an HTTP subscriber
//
// # Validation and errors
//
// A binding may carry a schema (WithSchema). The body is validated before any
// middleware or handler runs; failures surface as a ValidationError listing
// every offending field, and each adapter renders it in its own way (HTTP
// 400, a tool error, a CLI "Validation failed" listing). Unknown targets are
// answered by the adapter as "not found". Handler failures and recovered
// panics become a HandlerExecutionError and are reported to
// LifecycleHooks.OnError.
//
// # Middleware
//
// The default chain adds correlation ids, debug logging, OpenTelemetry spans,
// Prometheus metrics (when Config.MetricsEnabled) and per-handler statistics
// served by the optional handler API. Bindings may name extra middleware
// resolved through ServiceDependencies.NamedMiddleware.
package polyflow
