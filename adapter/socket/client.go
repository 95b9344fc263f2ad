package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	idspkg "github.com/drblury/polyflow/internal/runtime/ids"
	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

// DefaultCallTimeout bounds how long Call waits for a response. The server
// does not know about it and still answers late calls.
const DefaultCallTimeout = 10 * time.Second

var (
	ErrClientClosed = errors.New("socket: client closed")
	ErrCallTimeout  = errors.New("socket: call timed out")
)

// RemoteError is an error response sent by the server.
type RemoteError struct {
	Message string
	Fields  map[string][]string
}

func (e *RemoteError) Error() string { return e.Message }

// ClientOptions tunes Dial.
type ClientOptions struct {
	// Timeout overrides DefaultCallTimeout when positive.
	Timeout time.Duration
	Dialer  *websocket.Dialer
}

// Client calls rpc and event bindings over one WebSocket connection. It is
// safe for concurrent use.
type Client struct {
	ws      *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	err     error
	done    chan struct{}
}

// Dial connects to a socket adapter endpoint such as ws://host:8090/ws.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("socket: dial %s: %w", url, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	c := &Client{
		ws:      ws,
		timeout: timeout,
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call invokes an rpc binding and returns the decoded result.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return c.roundTrip(ctx, Frame{Type: FrameCall, Method: method, Args: args})
}

// CallInto is Call followed by a JSON conversion of the result into out.
func (c *Client) CallInto(ctx context.Context, out any, method string, args ...any) error {
	result, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	return jsoncodec.Convert(result, out)
}

// Request sends an event frame with an id and waits for its acknowledgement.
func (c *Client) Request(ctx context.Context, event string, data any) (any, error) {
	return c.roundTrip(ctx, Frame{Type: FrameEvent, Event: event, Data: data})
}

// Emit sends an event frame without an id. The server sends no response.
func (c *Client) Emit(event string, data any) error {
	return c.write(Frame{Type: FrameEvent, Event: event, Data: data})
}

func (c *Client) roundTrip(ctx context.Context, f Frame) (any, error) {
	id := idspkg.CreateULID()
	f.ID = id
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	if err := c.write(f); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, &RemoteError{Message: resp.Error, Fields: resp.Fields}
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s: %s", ErrCallTimeout, c.timeout, f.Method+f.Event)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closedErr()
	}
}

func (c *Client) write(f Frame) error {
	payload, err := jsoncodec.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.err == nil {
				c.err = fmt.Errorf("%w: %v", ErrClientClosed, err)
			}
			c.mu.Unlock()
			return
		}
		var resp Response
		if jsoncodec.Unmarshal(data, &resp) != nil {
			continue
		}
		id, ok := resp.ID.(string)
		if !ok {
			continue
		}
		c.mu.Lock()
		ch := c.pending[id]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}

// Close sends a close frame and waits for the read loop to stop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClientClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	return c.ws.Close()
}
