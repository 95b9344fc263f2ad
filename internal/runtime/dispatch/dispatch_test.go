package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/polyflow/internal/runtime/binding"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
	schemapkg "github.com/drblury/polyflow/internal/runtime/schema"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }

func (r *recordingLogger) Debug(msg string, _ loggingpkg.LogFields) { r.add("debug:" + msg) }

func (r *recordingLogger) Trace(msg string, _ loggingpkg.LogFields) { r.add("trace:" + msg) }

func (r *recordingLogger) Error(msg string, _ error, _ loggingpkg.LogFields) { r.add("error:" + msg) }

func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	if fields[loggingpkg.SeverityField] == "warning" {
		r.add("warn:" + msg)
		return
	}
	r.add("info:" + msg)
}

func (r *recordingLogger) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, line)
}

func (r *recordingLogger) has(line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e == line {
			return true
		}
	}
	return false
}

func addEntry() *Entry {
	return &Entry{
		Name:    "add",
		Service: "calc",
		Arity:   2,
		Handler: func(_ *Context, args ...any) (any, error) {
			return toInt(args[0]) + toInt(args[1]), nil
		},
		Bindings: map[binding.Tag]binding.MethodBinding{
			binding.TagRPC: {Tag: binding.TagRPC, Target: "add"},
		},
		Params: []binding.ParameterBinding{
			{Index: 0, Source: binding.SourceArgs, Key: "0"},
			{Index: 1, Source: binding.SourceArgs, Key: "1"},
		},
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func argsView(args ...any) RequestView {
	return RequestView{Args: args, Supported: binding.Sources(binding.SourceArgs, binding.SourceBody)}
}

func TestDispatchInvokesHandler(t *testing.T) {
	d := New("calc", Options{})
	require.NoError(t, d.Add(addEntry()))

	result, err := d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "add", View: argsView(2, 3)})
	require.NoError(t, err)
	assert.Equal(t, 5, result)
}

func TestDispatchNotFound(t *testing.T) {
	d := New("calc", Options{})
	require.NoError(t, d.Add(addEntry()))

	_, err := d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "subtract"})
	require.Error(t, err)
	assert.True(t, errspkg.IsNotFound(err))

	_, err = d.Dispatch(context.Background(), Request{Tag: binding.TagCommand, Target: "add"})
	assert.True(t, errspkg.IsNotFound(err))
}

func TestMiddlewareOnionOrder(t *testing.T) {
	var trace []string
	step := func(name string) Middleware {
		return func(c *Context) error {
			trace = append(trace, name+"-pre")
			err := c.Next()
			trace = append(trace, name+"-post")
			return err
		}
	}

	entry := addEntry()
	entry.Handler = func(*Context, ...any) (any, error) {
		trace = append(trace, "handler")
		return nil, nil
	}
	entry.Middleware = map[binding.Tag][]Middleware{binding.TagRPC: {step("m3")}}

	d := New("calc", Options{Middleware: []Middleware{step("m1"), step("m2")}})
	require.NoError(t, d.Add(entry))

	_, err := d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "add", View: argsView()})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1-pre", "m2-pre", "m3-pre", "handler", "m3-post", "m2-post", "m1-post"}, trace)
}

func TestMiddlewareShortCircuit(t *testing.T) {
	calls := 0
	entry := addEntry()
	entry.Handler = func(*Context, ...any) (any, error) {
		calls++
		return "reached", nil
	}
	reject := func(c *Context) error {
		c.Result = "blocked"
		return nil
	}
	d := New("calc", Options{Middleware: []Middleware{reject}})
	require.NoError(t, d.Add(entry))

	result, err := d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "add", View: argsView()})
	require.NoError(t, err)
	assert.Equal(t, "blocked", result)
	assert.Zero(t, calls)
}

func TestMiddlewareSeesAndRewritesResult(t *testing.T) {
	double := func(c *Context) error {
		if err := c.Next(); err != nil {
			return err
		}
		assert.True(t, c.Invoked())
		c.Result = c.Result.(int) * 2
		return c.Next()
	}
	d := New("calc", Options{Middleware: []Middleware{double}})
	require.NoError(t, d.Add(addEntry()))

	result, err := d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "add", View: argsView(2, 3)})
	require.NoError(t, err)
	assert.Equal(t, 10, result)
}

func echoEntry(calls *int) *Entry {
	v := schemapkg.MustNew(schemapkg.Object(map[string]*jsonschema.Schema{
		"msg": schemapkg.NonEmptyString("message"),
	}, "msg"))
	return &Entry{
		Name:  "echo",
		Arity: 2,
		Handler: func(_ *Context, args ...any) (any, error) {
			*calls++
			return args, nil
		},
		Bindings: map[binding.Tag]binding.MethodBinding{
			binding.TagCommand: {Tag: binding.TagCommand, Target: "echo", Schema: v},
			binding.TagEvent:   {Tag: binding.TagEvent, Target: "echo"},
		},
		Params: []binding.ParameterBinding{
			{Index: 0, Source: binding.SourceBody},
			{Index: 1, Source: binding.SourceBody},
		},
	}
}

func TestValidationFailureSkipsHandler(t *testing.T) {
	calls := 0
	var reported []error
	d := New("echo", Options{OnError: func(_ *Context, err error) { reported = append(reported, err) }})
	require.NoError(t, d.Add(echoEntry(&calls)))

	_, err := d.Dispatch(context.Background(), Request{
		Tag:    binding.TagCommand,
		Target: "echo",
		View:   RequestView{Body: map[string]any{}, Supported: binding.AllSources},
	})
	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"msg"}, verr.FieldNames())
	assert.Zero(t, calls)
	assert.Empty(t, reported)
}

func TestValidatedValueReplacesEveryWholeBodyArgument(t *testing.T) {
	calls := 0
	d := New("echo", Options{})
	require.NoError(t, d.Add(echoEntry(&calls)))

	result, err := d.Dispatch(context.Background(), Request{
		Tag:    binding.TagCommand,
		Target: "echo",
		View:   RequestView{Body: map[string]any{"msg": " hi "}, Supported: binding.AllSources},
	})
	require.NoError(t, err)
	want := map[string]any{"msg": "hi"}
	assert.Equal(t, []any{want, want}, result)
	assert.Equal(t, 1, calls)
}

func sumEntry(calls *int, got *[]any) *Entry {
	v := schemapkg.MustNew(schemapkg.Object(map[string]*jsonschema.Schema{
		"a": schemapkg.Integer(""),
		"b": schemapkg.Integer(""),
	}, "a"))
	return &Entry{
		Name:  "sum",
		Arity: 2,
		Handler: func(_ *Context, args ...any) (any, error) {
			*calls++
			*got = args
			return nil, nil
		},
		Bindings: map[binding.Tag]binding.MethodBinding{
			binding.TagTool: {Tag: binding.TagTool, Target: "sum", Schema: v},
		},
		Params: []binding.ParameterBinding{
			{Index: 0, Source: binding.SourceBody, Key: "a"},
			{Index: 1, Source: binding.SourceBody, Key: "b"},
		},
	}
}

func TestSchemaValidatesFieldBoundBody(t *testing.T) {
	calls := 0
	var got []any
	d := New("calc", Options{})
	require.NoError(t, d.Add(sumEntry(&calls, &got)))

	_, err := d.Dispatch(context.Background(), Request{
		Tag:    binding.TagTool,
		Target: "sum",
		View:   RequestView{Body: map[string]any{"a": "notanint"}, Supported: binding.AllSources},
	})
	var verr *errspkg.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"a"}, verr.FieldNames())
	assert.Zero(t, calls)

	_, err = d.Dispatch(context.Background(), Request{
		Tag:    binding.TagTool,
		Target: "sum",
		View:   RequestView{Body: map[string]any{"a": " 4 ", "b": "5"}, Supported: binding.AllSources},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []any{int64(4), int64(5)}, got)
}

func TestSchemaOnlyAppliesToItsBinding(t *testing.T) {
	calls := 0
	d := New("echo", Options{})
	require.NoError(t, d.Add(echoEntry(&calls)))

	_, err := d.Dispatch(context.Background(), Request{
		Tag:    binding.TagEvent,
		Target: "echo",
		View:   RequestView{Body: map[string]any{}, Supported: binding.AllSources},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHandlerErrorsAndPanicsBecomeExecutionErrors(t *testing.T) {
	var reported []error
	d := New("calc", Options{OnError: func(_ *Context, err error) { reported = append(reported, err) }})

	failing := addEntry()
	failing.Name = "fail"
	failing.Bindings = map[binding.Tag]binding.MethodBinding{binding.TagRPC: {Tag: binding.TagRPC, Target: "fail"}}
	failing.Handler = func(*Context, ...any) (any, error) { return nil, errors.New("division by zero") }

	panicking := addEntry()
	panicking.Name = "boom"
	panicking.Bindings = map[binding.Tag]binding.MethodBinding{binding.TagRPC: {Tag: binding.TagRPC, Target: "boom"}}
	panicking.Handler = func(*Context, ...any) (any, error) { panic("kaboom") }

	require.NoError(t, d.Add(failing, panicking))

	_, err := d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "fail", View: argsView()})
	var exec *errspkg.HandlerExecutionError
	require.True(t, errors.As(err, &exec))
	assert.False(t, exec.Panic)
	assert.Equal(t, "division by zero", errspkg.Message(err))

	_, err = d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "boom", View: argsView()})
	require.True(t, errors.As(err, &exec))
	assert.True(t, exec.Panic)
	assert.Equal(t, "kaboom", errspkg.Message(err))

	assert.Len(t, reported, 2)
}

func TestHeldReportFiresOnce(t *testing.T) {
	var reported []error
	d := New("calc", Options{OnError: func(_ *Context, err error) { reported = append(reported, err) }})
	failing := addEntry()
	failing.Handler = func(*Context, ...any) (any, error) { return nil, errors.New("division by zero") }
	require.NoError(t, d.Add(failing))

	held := &HeldReport{}
	_, err := d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "add", View: argsView(), Held: held})
	require.Error(t, err)
	assert.Empty(t, reported, "held until fired")

	held.Fire()
	held.Fire()
	require.Len(t, reported, 1)
	assert.Same(t, err, reported[0])

	(&HeldReport{}).Fire()
	var none *HeldReport
	none.Fire()
	assert.Len(t, reported, 1)
}

func TestDisabledBindingsAreNotRouted(t *testing.T) {
	entry := addEntry()
	entry.Bindings[binding.HTTPTag("POST")] = binding.MethodBinding{Tag: binding.HTTPTag("POST"), Target: "/add", Disabled: true}
	d := New("calc", Options{})
	require.NoError(t, d.Add(entry))

	_, ok := d.Lookup(binding.HTTPTag("POST"), "/add")
	assert.False(t, ok)
	assert.Empty(t, d.HTTPRoutes())
	assert.Len(t, d.Routes(), 1)
}

func TestAddReplacesDuplicateEntries(t *testing.T) {
	log := &recordingLogger{}
	d := New("calc", Options{Logger: log})

	first := addEntry()
	second := addEntry()
	second.Bindings = map[binding.Tag]binding.MethodBinding{binding.TagRPC: {Tag: binding.TagRPC, Target: "plus"}}
	second.Handler = func(*Context, ...any) (any, error) { return "second", nil }

	require.NoError(t, d.Add(first))
	require.NoError(t, d.Add(second))

	_, ok := d.Lookup(binding.TagRPC, "add")
	assert.False(t, ok)
	result, err := d.Dispatch(context.Background(), Request{Tag: binding.TagRPC, Target: "plus", View: argsView()})
	require.NoError(t, err)
	assert.Equal(t, "second", result)
	assert.True(t, log.has("warn:Handler registered twice, keeping the latest"))
	assert.Len(t, d.Entries(), 1)

	assert.ErrorIs(t, d.Add(&Entry{Name: "x"}), errspkg.ErrHandlerRequired)
}

func TestContextCarriesRequestState(t *testing.T) {
	entry := addEntry()
	entry.Handler = func(c *Context, _ ...any) (any, error) {
		line, _ := c.Get("cli.line")
		return []any{c.Service, c.Transport, c.Metadata.CorrelationID(), line, len(c.Entries()), c.Binding.Target}, nil
	}
	d := New("calc", Options{})
	require.NoError(t, d.Add(entry))

	md := metadatapkg.New(metadatapkg.KeyCorrelationID, "c-1")
	result, err := d.Dispatch(context.Background(), Request{
		Tag:       binding.TagRPC,
		Target:    "add",
		Transport: "cli",
		Metadata:  md,
		Values:    map[string]any{"cli.line": "add 1 2"},
		View:      argsView(),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"calc", "cli", "c-1", "add 1 2", 1, "add"}, result)
}

func TestBindArguments(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	view := RequestView{
		Body:     map[string]any{"name": "ada"},
		Params:   map[string]string{"id": "7"},
		Query:    url.Values{"tag": {"a", "b"}, "page": {"2"}},
		Headers:  http.Header{"X-Request-Id": {"r-1"}},
		Cookies:  map[string]string{"sid": "s"},
		Session:  map[string]any{"user": "u"},
		Files:    map[string]any{"upload": []byte("x")},
		Args:     []any{"first", "second"},
		Request:  "raw-request",
		Response: "raw-response",
		Context:  ctx,

		Supported: binding.AllSources,
	}
	params := []binding.ParameterBinding{
		{Index: 0, Source: binding.SourceBody, Key: "name"},
		{Index: 1, Source: binding.SourcePath, Key: "id"},
		{Index: 2, Source: binding.SourceQuery, Key: "page"},
		{Index: 3, Source: binding.SourceQuery, Key: "tag"},
		{Index: 4, Source: binding.SourceHeader, Key: "x-request-id"},
		{Index: 5, Source: binding.SourceCookie, Key: "sid"},
		{Index: 6, Source: binding.SourceSession, Key: "user"},
		{Index: 7, Source: binding.SourceFile, Key: "upload"},
		{Index: 8, Source: binding.SourceArgs, Key: "1"},
		{Index: 9, Source: binding.SourceArgs, Key: "5"},
		{Index: 10, Source: binding.SourceContext},
		{Index: 11, Source: binding.SourceRequest},
		{Index: 12, Source: binding.SourceResponse},
		{Index: 13, Source: binding.SourceBody},
		{Index: 14, Source: binding.SourceArgs},
		{Index: 99, Source: binding.SourceBody},
	}

	args := BindArguments(params, 16, view, nil)
	assert.Equal(t, []any{
		"ada", "7", "2", []string{"a", "b"}, "r-1", "s", "u", []byte("x"),
		"second", nil, ctx, "raw-request", "raw-response",
		map[string]any{"name": "ada"}, []any{"first", "second"}, nil,
	}, args)

	again := BindArguments(params, 16, view, nil)
	assert.Equal(t, args, again)
}

func TestBindArgumentsUnsupportedSource(t *testing.T) {
	log := &recordingLogger{}
	view := RequestView{Headers: http.Header{"A": {"b"}}, Supported: binding.Sources(binding.SourceArgs)}

	args := BindArguments([]binding.ParameterBinding{{Index: 0, Source: binding.SourceHeader, Key: "a"}}, 1, view, log)
	assert.Equal(t, []any{nil}, args)
	assert.True(t, log.has("warn:Parameter source not available on this transport"))
}

func TestBindArgumentsZeroArity(t *testing.T) {
	assert.Empty(t, BindArguments(nil, -1, RequestView{}, nil))
}
