package socket

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/adapter/adaptertest"
	"github.com/drblury/polyflow/internal/runtime/binding"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
)

func startAdapter(t *testing.T, env adapter.Env) *Adapter {
	t.Helper()
	if env.Options == nil {
		env.Options = map[string]any{}
	}
	env.Options["address"] = "127.0.0.1:0"

	a := New()
	require.NoError(t, a.Initialize(context.Background(), env))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Listen(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		closeCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = a.Close(closeCtx)
	})
	return a
}

func dialRaw(t *testing.T, a *Adapter) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(a.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, frame string) map[string]any {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, jsoncodec.Unmarshal(data, &out))
	return out
}

func TestRegisteredOnImport(t *testing.T) {
	assert.True(t, adapter.DefaultRegistry.Has(Name))
}

func TestCallFrames(t *testing.T) {
	env, _ := adaptertest.Env(t, nil, nil)
	ws := dialRaw(t, startAdapter(t, env))

	got := roundTrip(t, ws, `{"type":"call","method":"add","args":[2,3],"id":"x1"}`)
	assert.Equal(t, map[string]any{"id": "x1", "result": float64(5)}, got)

	got = roundTrip(t, ws, `{"type":"call","method":"subtract","args":[2,3],"id":"x1"}`)
	assert.Equal(t, map[string]any{"id": "x1", "error": "Method 'subtract' not found"}, got)

	got = roundTrip(t, ws, `{"type":"call","method":"divide","args":[1,0],"id":7}`)
	assert.Equal(t, map[string]any{"id": float64(7), "error": "division by zero"}, got)
}

func TestInvalidFramesAnswerWithNullID(t *testing.T) {
	env, _ := adaptertest.Env(t, nil, nil)
	ws := dialRaw(t, startAdapter(t, env))

	for _, frame := range []string{
		`not json`,
		`{"type":"bogus","id":"q1"}`,
		`{"type":"call","id":"q2"}`,
		`{"type":"event","id":"q3"}`,
	} {
		got := roundTrip(t, ws, frame)
		assert.Contains(t, got, "id", frame)
		assert.Nil(t, got["id"], frame)
		assert.Contains(t, got["error"], "invalid frame", frame)
	}
}

func TestValidationFailureSkipsHandler(t *testing.T) {
	env, calc := adaptertest.Env(t, nil, nil)
	a := startAdapter(t, env)
	client, err := Dial(context.Background(), a.URL(), ClientOptions{})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "echo", map[string]any{"msg": "   "})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Fields, "msg")
	assert.Zero(t, calc.Calls("echo"))

	var out adaptertest.EchoInput
	require.NoError(t, client.CallInto(context.Background(), &out, "echo", map[string]any{"msg": "hi"}))
	assert.Equal(t, "hi", out.Msg)
	assert.Equal(t, 1, calc.Calls("echo"))
}

func TestEvents(t *testing.T) {
	env, calc := adaptertest.Env(t, nil, nil)
	a := startAdapter(t, env)
	client, err := Dial(context.Background(), a.URL(), ClientOptions{})
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Request(context.Background(), "sum", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, float64(3), result)

	require.NoError(t, client.Emit("sum", map[string]any{"a": 4, "b": 5}))
	require.Eventually(t, func() bool { return calc.Calls("sum") == 2 }, 2*time.Second, 10*time.Millisecond)

	_, err = client.Request(context.Background(), "nope", nil)
	assert.EqualError(t, err, "Event 'nope' not found")
}

func TestConcurrentCalls(t *testing.T) {
	env, _ := adaptertest.Env(t, nil, nil)
	a := startAdapter(t, env)
	client, err := Dial(context.Background(), a.URL(), ClientOptions{})
	require.NoError(t, err)
	defer client.Close()

	results := make(chan any, 20)
	for i := 0; i < 20; i++ {
		go func() {
			out, err := client.Call(context.Background(), "add", i, 1)
			if err != nil {
				results <- err
				return
			}
			results <- out
		}()
	}
	seen := map[float64]bool{}
	for i := 0; i < 20; i++ {
		r := <-results
		require.IsType(t, float64(0), r)
		seen[r.(float64)] = true
	}
	assert.Len(t, seen, 20)
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	d := dispatch.New("slow", dispatch.Options{})
	require.NoError(t, d.Add(&dispatch.Entry{
		Name: "wait",
		Handler: func(*dispatch.Context, ...any) (any, error) {
			<-release
			return "late", nil
		},
		Bindings: map[binding.Tag]binding.MethodBinding{binding.TagRPC: {Tag: binding.TagRPC, Target: "wait"}},
	}))
	a := startAdapter(t, adapter.Env{Service: "slow", Dispatcher: d, Logger: loggingpkg.NewNopServiceLogger()})
	defer close(release)

	client, err := Dial(context.Background(), a.URL(), ClientOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), "wait")
	assert.ErrorIs(t, err, ErrCallTimeout)
}

func TestLifecycleErrors(t *testing.T) {
	a := New()
	assert.NoError(t, a.Close(context.Background()))
	assert.ErrorIs(t, a.Listen(context.Background()), errspkg.ErrAdapterNotReady)
	assert.ErrorIs(t, a.Initialize(context.Background(), adapter.Env{}), errspkg.ErrDispatcherRequired)

	env, _ := adaptertest.Env(t, nil, nil)
	first := startAdapter(t, env)
	env.Options = map[string]any{"address": first.Addr().String()}
	second := New()
	err := second.Initialize(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}
