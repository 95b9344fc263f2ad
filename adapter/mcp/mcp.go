// Package mcp serves tool bindings as a Model Context Protocol server.
//
// Each tool route becomes one MCP tool named by its target. The binding's
// schema, when present and of type object, is advertised as the input
// schema. Calls are answered with a JSON text block, plus structured content
// when the result is an object. Handler and validation failures are reported
// as tool errors (IsError) so the calling model can see and correct them.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/internal/runtime/binding"
	configpkg "github.com/drblury/polyflow/internal/runtime/config"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
)

const (
	Name = "mcp"

	defaultAddress = ":8095"
	defaultPath    = "/mcp"
	defaultVersion = "1.0.0"
)

var supportedSources = binding.Sources(
	binding.SourceBody,
	binding.SourceArgs,
	binding.SourceHeader,
	binding.SourceContext,
	binding.SourceRequest,
)

func init() {
	adapter.Register(Name, func() adapter.Adapter { return New(Options{}) })
}

// Options customise the adapter.
type Options struct {
	// Transport replaces stdio in stdio mode, e.g. an in-memory transport.
	Transport mcpsdk.Transport
	// Version is reported in the MCP implementation info.
	Version string
}

// Adapter hosts an MCP server over stdio or streamable HTTP.
type Adapter struct {
	opts Options

	dispatcher *dispatch.Dispatcher
	log        loggingpkg.ServiceLogger
	mode       string
	server     *mcpsdk.Server
	tools      []string

	listener   net.Listener
	httpServer *http.Server
}

func New(opts Options) *Adapter {
	if opts.Version == "" {
		opts.Version = defaultVersion
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string { return Name }

// Initialize registers one tool per tool route. In HTTP mode the listener is
// bound here.
func (a *Adapter) Initialize(_ context.Context, env adapter.Env) error {
	if env.Dispatcher == nil {
		return errspkg.ErrDispatcherRequired
	}
	conf := env.Conf()
	a.dispatcher = env.Dispatcher
	a.log = env.Log(Name)

	a.mode = env.String("mode", conf.MCPMode)
	if a.mode == "" {
		a.mode = configpkg.MCPModeStdio
	}
	if a.mode != configpkg.MCPModeStdio && a.mode != configpkg.MCPModeHTTP {
		return fmt.Errorf("mcp: unknown mode %q", a.mode)
	}

	name := env.Service
	if name == "" {
		name = conf.ServiceName
	}
	a.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: a.opts.Version}, nil)
	for _, route := range a.dispatcher.Routes(binding.TagTool) {
		a.server.AddTool(toolFor(route), a.handle(route))
		a.tools = append(a.tools, route.Target)
	}

	if a.mode == configpkg.MCPModeHTTP {
		addr := env.String("address", conf.MCPAddress)
		if addr == "" {
			addr = defaultAddress
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("mcp: listen on %s: %w", addr, err)
		}
		a.listener = ln

		r := chi.NewRouter()
		r.Handle(env.String("path", defaultPath), mcpsdk.NewStreamableHTTPHandler(
			func(*http.Request) *mcpsdk.Server { return a.server }, nil))
		a.httpServer = &http.Server{Handler: r, ReadHeaderTimeout: conf.HTTPReadTimeout}
	}

	a.log.Info("MCP adapter initialized", loggingpkg.LogFields{"mode": a.mode, "tools": a.tools})
	return nil
}

// Server exposes the underlying MCP server.
func (a *Adapter) Server() *mcpsdk.Server { return a.server }

// Addr is the bound address in HTTP mode.
func (a *Adapter) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Listen serves one stdio session, or HTTP sessions, until ctx is cancelled
// or the peer disconnects.
func (a *Adapter) Listen(ctx context.Context) error {
	if a.server == nil {
		return errspkg.ErrAdapterNotReady
	}
	if a.mode == configpkg.MCPModeHTTP {
		return a.listenHTTP(ctx)
	}

	t := a.opts.Transport
	if t == nil {
		t = &mcpsdk.StdioTransport{}
	}
	err := a.server.Run(ctx, t)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (a *Adapter) listenHTTP(ctx context.Context) error {
	a.log.Info("MCP adapter listening", loggingpkg.LogFields{"address": a.listener.Addr().String()})
	errCh := make(chan error, 1)
	go func() { errCh <- a.httpServer.Serve(a.listener) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *Adapter) Close(ctx context.Context) error {
	if a.httpServer != nil {
		return a.httpServer.Shutdown(ctx)
	}
	return nil
}

func toolFor(route dispatch.Route) *mcpsdk.Tool {
	tool := &mcpsdk.Tool{
		Name:        route.Target,
		Description: route.Binding.Description,
		InputSchema: &jsonschema.Schema{Type: "object"},
	}
	if route.Binding.Schema != nil {
		if s := route.Binding.Schema.JSONSchema(); s != nil && s.Type == "object" {
			tool.InputSchema = s
		}
	}
	return tool
}

func (a *Adapter) handle(route dispatch.Route) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		body := map[string]any{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := jsoncodec.Unmarshal(req.Params.Arguments, &body); err != nil {
				return errorResult(adapter.Failure{Error: "invalid arguments: " + err.Error()}), nil
			}
			if body == nil {
				body = map[string]any{}
			}
		}

		var headers http.Header
		if req.Extra != nil {
			headers = req.Extra.Header
		}
		md := metadatapkg.FromHeader(headers).With(metadatapkg.KeyTransport, Name)

		result, err := a.dispatcher.Invoke(ctx, route, dispatch.Request{
			Tag:       route.Tag,
			Target:    route.Target,
			Transport: Name,
			View: dispatch.RequestView{
				Body:      body,
				Args:      []any{body},
				Headers:   headers,
				Request:   req,
				Context:   ctx,
				Supported: supportedSources,
			},
			Metadata: md,
		})
		if err != nil {
			return errorResult(adapter.NewFailure(err)), nil
		}
		return successResult(result)
	}
}

func successResult(result any) (*mcpsdk.CallToolResult, error) {
	text, err := jsoncodec.Marshal(result)
	if err != nil {
		return errorResult(adapter.Failure{Error: "failed to encode result: " + err.Error()}), nil
	}
	out := &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}}}
	if generic, err := jsoncodec.Normalize(result); err == nil {
		if obj, ok := generic.(map[string]any); ok {
			out.StructuredContent = obj
		}
	}
	return out, nil
}

func errorResult(f adapter.Failure) *mcpsdk.CallToolResult {
	text, err := jsoncodec.Marshal(f)
	if err != nil {
		text = []byte(f.Error)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
		IsError: true,
	}
}
