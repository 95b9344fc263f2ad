package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/internal/runtime/binding"
	configpkg "github.com/drblury/polyflow/internal/runtime/config"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	"github.com/drblury/polyflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
)

var errBoom = errors.New("boom")

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeAdapter struct {
	name      string
	log       *eventLog
	initErr   error
	listenErr error

	mu  sync.Mutex
	env adapter.Env
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Initialize(_ context.Context, env adapter.Env) error {
	f.log.add("init " + f.name)
	f.mu.Lock()
	f.env = env
	f.mu.Unlock()
	return f.initErr
}

func (f *fakeAdapter) Listen(ctx context.Context) error {
	f.log.add("listen " + f.name)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeAdapter) Close(context.Context) error {
	f.log.add("close " + f.name)
	return nil
}

func (f *fakeAdapter) Env() adapter.Env {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.env
}

func calculatorDesc() handlers.ServiceDesc {
	return handlers.ServiceDesc{
		Name: "calculator",
		Methods: []handlers.MethodDesc{
			handlers.Method2("add", func(_ *dispatch.Context, a, b int) (int, error) { return a + b, nil }),
			handlers.Method2("divide", func(_ *dispatch.Context, a, b int) (int, error) {
				if b == 0 {
					return 0, errors.New("division by zero")
				}
				return a / b, nil
			}),
			handlers.Method0("explode", func(*dispatch.Context) (int, error) { panic("kaboom") }),
		},
	}
}

func calculatorRegistry(t *testing.T) *binding.Registry {
	t.Helper()
	reg := binding.NewRegistry()
	require.NoError(t, binding.For(reg, "calculator").
		Method("add").RPC("add").Command("add").Arg(0).Arg(1).
		Method("divide").RPC("divide").Arg(0).Arg(1).
		Method("explode").RPC("explode").
		Err())
	return reg
}

func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	if deps.Registry == nil {
		deps.Registry = calculatorRegistry(t)
	}
	if deps.MetricsRegisterer == nil {
		deps.MetricsRegisterer = prometheus.NewRegistry()
	}
	if deps.AdapterRegistry == nil {
		deps.AdapterRegistry = adapter.NewRegistry()
	}
	s, err := TryNewService(conf, loggingpkg.NewNopServiceLogger(), calculatorDesc(), deps)
	require.NoError(t, err)
	return s
}

func rpc(method string, args ...any) dispatch.Request {
	return dispatch.Request{
		Tag:       binding.TagRPC,
		Target:    method,
		Transport: "test",
		View: dispatch.RequestView{
			Args:      args,
			Supported: binding.Sources(binding.SourceArgs),
		},
	}
}
