// Package adaptertest provides a small calculator service bound on every
// protocol, for adapter tests.
package adaptertest

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/internal/runtime/binding"
	configpkg "github.com/drblury/polyflow/internal/runtime/config"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	"github.com/drblury/polyflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	schemapkg "github.com/drblury/polyflow/internal/runtime/schema"
)

const ServiceName = "calculator"

var ErrDivisionByZero = errors.New("division by zero")

// EchoInput is the body of the echo method.
type EchoInput struct {
	Msg string `json:"msg"`
}

// Greeting is returned by greet.
type Greeting struct {
	Text   string `json:"text"`
	Caller string `json:"caller,omitempty"`
}

// Calculator counts how often each method body actually ran.
type Calculator struct {
	mu    sync.Mutex
	calls map[string]int
}

func NewCalculator() *Calculator {
	return &Calculator{calls: make(map[string]int)}
}

func (c *Calculator) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Calculator) record(method string) {
	c.mu.Lock()
	c.calls[method]++
	c.mu.Unlock()
}

func (c *Calculator) Describe() handlers.ServiceDesc {
	return handlers.ServiceDesc{
		Name: ServiceName,
		Methods: []handlers.MethodDesc{
			handlers.Method2("add", func(_ *dispatch.Context, a, b int) (int, error) {
				c.record("add")
				return a + b, nil
			}),
			handlers.Method2("sum", func(_ *dispatch.Context, a, b int) (int, error) {
				c.record("sum")
				return a + b, nil
			}),
			handlers.Method2("divide", func(_ *dispatch.Context, a, b int) (int, error) {
				c.record("divide")
				if b == 0 {
					return 0, ErrDivisionByZero
				}
				return a / b, nil
			}),
			handlers.Method1("echo", func(_ *dispatch.Context, in EchoInput) (EchoInput, error) {
				c.record("echo")
				return in, nil
			}),
			handlers.Method3("greet", func(_ *dispatch.Context, name, greeting, caller string) (Greeting, error) {
				c.record("greet")
				if greeting == "" {
					greeting = "hello"
				}
				return Greeting{Text: greeting + " " + name, Caller: caller}, nil
			}),
		},
	}
}

// SumSchema requires integer a and b. The operands are bound field by field
// from the validated body.
func SumSchema() schemapkg.Validator {
	return schemapkg.MustNew(schemapkg.Object(map[string]*jsonschema.Schema{
		"a": schemapkg.Integer("first operand"),
		"b": schemapkg.Integer("second operand"),
	}, "a", "b"))
}

// EchoSchema requires a non-empty msg.
func EchoSchema() schemapkg.Validator {
	return schemapkg.MustNew(schemapkg.Object(map[string]*jsonschema.Schema{
		"msg": schemapkg.NonEmptyString("text to echo back"),
	}, "msg"))
}

// Registry declares the calculator bindings:
//
//	add     rpc add, command add            args 0 and 1
//	divide  rpc divide, command divide      args 0 and 1
//	sum     http.POST /sum, tool sum, stream calc.sum, event sum   body a and b
//	echo    command echo, rpc echo, tool echo, http.POST /echo, stream calc.echo   whole body
//	greet   http.GET /greet/{name}          path name, query greeting, header X-Caller
func Registry(t testing.TB) *binding.Registry {
	t.Helper()
	reg := binding.NewRegistry()
	echo := binding.WithSchema(EchoSchema())
	require.NoError(t, binding.For(reg, ServiceName).
		Method("add").
		RPC("add").Command("add", binding.WithDescription("Add two integers")).
		Arg(0).Arg(1).
		Method("divide").
		RPC("divide").Command("divide", binding.WithDescription("Divide a by b")).
		Arg(0).Arg(1).
		Method("sum").
		Post("/sum").Tool("sum", binding.WithSchema(SumSchema()), binding.WithDescription("Sum a and b")).Stream("calc.sum").Event("sum").
		BodyField(0, "a").BodyField(1, "b").
		Method("echo").
		Command("echo", echo, binding.WithDescription("Echo a message")).RPC("echo", echo).Tool("echo", echo).
		Post("/echo", echo).Stream("calc.echo", echo).
		Body(0).
		Method("greet").
		Get("/greet/{name}").
		Path(0, "name").Query(1, "greeting").Header(2, "X-Caller").
		Err())
	return reg
}

// Dispatcher compiles the calculator into a dispatcher.
func Dispatcher(t testing.TB) (*dispatch.Dispatcher, *Calculator) {
	t.Helper()
	calc := NewCalculator()
	entries, err := handlers.Compile(calc.Describe(), handlers.Options{Registry: Registry(t)})
	require.NoError(t, err)
	d := dispatch.New(ServiceName, dispatch.Options{})
	require.NoError(t, d.Add(entries...))
	return d, calc
}

// Env is an adapter.Env around a fresh calculator dispatcher.
func Env(t testing.TB, conf *configpkg.Config, options map[string]any) (adapter.Env, *Calculator) {
	t.Helper()
	d, calc := Dispatcher(t)
	if conf == nil {
		conf = &configpkg.Config{ServiceName: ServiceName}
	}
	return adapter.Env{
		Service:    ServiceName,
		Dispatcher: d,
		Config:     conf,
		Logger:     loggingpkg.NewNopServiceLogger(),
		Options:    options,
	}, calc
}
