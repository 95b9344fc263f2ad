// Package socket exposes rpc and event bindings over WebSocket text frames.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/internal/runtime/binding"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
)

const (
	Name = "socket"

	defaultAddress = ":8090"
	defaultPath    = "/ws"
	writeTimeout   = 10 * time.Second

	// ValueCallID holds the client's frame id in the dispatch context.
	ValueCallID = "socket.id"
)

var supportedSources = binding.Sources(
	binding.SourceArgs,
	binding.SourceBody,
	binding.SourceHeader,
	binding.SourceCookie,
	binding.SourceContext,
	binding.SourceRequest,
)

func init() {
	adapter.Register(Name, func() adapter.Adapter { return New() })
}

// Adapter serves WebSocket connections. Every call frame is dispatched on its
// own goroutine so one slow handler does not hold up the connection.
type Adapter struct {
	upgrader websocket.Upgrader

	dispatcher *dispatch.Dispatcher
	log        loggingpkg.ServiceLogger
	path       string
	listener   net.Listener
	server     *http.Server

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func New() *Adapter {
	return &Adapter{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

func (a *Adapter) Name() string { return Name }

// Initialize binds the listener so address conflicts surface before any
// adapter starts serving.
func (a *Adapter) Initialize(_ context.Context, env adapter.Env) error {
	if env.Dispatcher == nil {
		return errspkg.ErrDispatcherRequired
	}
	conf := env.Conf()
	a.dispatcher = env.Dispatcher
	a.log = env.Log(Name)
	a.path = env.String("path", orDefault(conf.SocketPath, defaultPath))
	addr := env.String("address", orDefault(conf.SocketAddress, defaultAddress))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("socket: listen on %s: %w", addr, err)
	}
	a.listener = ln

	r := chi.NewRouter()
	r.Get(a.path, a.serveWS)
	a.server = &http.Server{Handler: r, ReadHeaderTimeout: writeTimeout}
	return nil
}

// Addr is the bound address, useful when configured with port 0.
func (a *Adapter) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// URL returns the ws:// endpoint clients dial.
func (a *Adapter) URL() string {
	if a.listener == nil {
		return ""
	}
	return "ws://" + a.listener.Addr().String() + a.path
}

func (a *Adapter) Listen(ctx context.Context) error {
	if a.server == nil {
		return errspkg.ErrAdapterNotReady
	}
	a.log.Info("Socket adapter listening", loggingpkg.LogFields{"address": a.listener.Addr().String(), "path": a.path})

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Serve(a.listener) }()

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
	a.mu.Lock()
	conns := make([]*conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()
	for _, c := range conns {
		c.close()
	}

	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	if a.listener != nil {
		return a.listener.Close()
	}
	return nil
}

func (a *Adapter) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("WebSocket upgrade failed", loggingpkg.LogFields{"error": err.Error()})
		return
	}
	c := &conn{ws: ws, upgrade: r}
	a.track(c, true)
	defer a.track(c, false)
	defer c.close()

	// handler contexts outlive a single frame but not the connection
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debug("Socket read ended", loggingpkg.LogFields{"error": err.Error()})
			}
			return
		}
		if kind != websocket.TextMessage {
			c.send(a.log, Response{Error: "binary frames are not supported"})
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			a.handleFrame(ctx, c, data)
		}()
	}
}

func (a *Adapter) track(c *conn, add bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if add {
		a.conns[c] = struct{}{}
		return
	}
	delete(a.conns, c)
}

func (a *Adapter) handleFrame(ctx context.Context, c *conn, data []byte) {
	var f Frame
	if err := jsoncodec.Unmarshal(data, &f); err != nil {
		c.send(a.log, Response{Error: "invalid frame: " + err.Error()})
		return
	}
	switch f.Type {
	case FrameCall:
		if f.Method == "" {
			c.send(a.log, Response{Error: "invalid frame: call requires a method"})
			return
		}
		c.send(a.log, a.call(ctx, c, f))
	case FrameEvent:
		if f.Event == "" {
			c.send(a.log, Response{Error: "invalid frame: event requires a name"})
			return
		}
		resp := a.event(ctx, c, f)
		if f.ID != nil {
			c.send(a.log, resp)
		} else if resp.Error != "" {
			a.log.Debug("Event failed", loggingpkg.LogFields{"event": f.Event, "error": resp.Error})
		}
	default:
		c.send(a.log, Response{Error: fmt.Sprintf("invalid frame: unknown type %q", f.Type)})
	}
}

func (a *Adapter) call(ctx context.Context, c *conn, f Frame) Response {
	route, ok := a.dispatcher.Lookup(binding.TagRPC, f.Method)
	if !ok {
		return Response{ID: f.ID, Error: notFoundMessage("Method", f.Method)}
	}
	view := c.view(ctx, f.Args)
	if len(f.Args) == 1 {
		if obj, isObj := f.Args[0].(map[string]any); isObj {
			view.Body = obj
		}
	}
	return a.invoke(ctx, c, route, f.ID, view)
}

func (a *Adapter) event(ctx context.Context, c *conn, f Frame) Response {
	route, ok := a.dispatcher.Lookup(binding.TagEvent, f.Event)
	if !ok {
		return Response{ID: f.ID, Error: notFoundMessage("Event", f.Event)}
	}
	var args []any
	if f.Data != nil {
		args = []any{f.Data}
	}
	view := c.view(ctx, args)
	view.Body = f.Data
	return a.invoke(ctx, c, route, f.ID, view)
}

func (a *Adapter) invoke(ctx context.Context, c *conn, route dispatch.Route, id any, view dispatch.RequestView) Response {
	req := dispatch.Request{
		Tag:       route.Tag,
		Target:    route.Target,
		Transport: Name,
		View:      view,
		Metadata:  c.metadata(),
		Values:    map[string]any{ValueCallID: id},
	}
	result, err := a.dispatcher.Invoke(ctx, route, req)
	if err != nil {
		failure := adapter.NewFailure(err)
		return Response{ID: id, Error: failure.Error, Fields: failure.Fields}
	}
	return Response{ID: id, Result: result}
}

type conn struct {
	ws      *websocket.Conn
	upgrade *http.Request

	writeMu sync.Mutex
	once    sync.Once
}

func (c *conn) view(ctx context.Context, args []any) dispatch.RequestView {
	cookies := make(map[string]string)
	for _, ck := range c.upgrade.Cookies() {
		cookies[ck.Name] = ck.Value
	}
	return dispatch.RequestView{
		Args:      args,
		Headers:   c.upgrade.Header,
		Cookies:   cookies,
		Request:   c.upgrade,
		Context:   ctx,
		Supported: supportedSources,
	}
}

func (c *conn) metadata() metadatapkg.Metadata {
	return metadatapkg.FromHeader(c.upgrade.Header).With(metadatapkg.KeyTransport, Name)
}

// send writes one response. A caller that already left is not an error for
// the adapter: the write is attempted and failures are only logged.
func (c *conn) send(log loggingpkg.ServiceLogger, resp Response) {
	payload, err := jsoncodec.Marshal(resp)
	if err != nil {
		payload, _ = jsoncodec.Marshal(Response{ID: resp.ID, Error: "failed to encode result: " + err.Error()})
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Debug("Socket write failed", loggingpkg.LogFields{"error": err.Error()})
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
