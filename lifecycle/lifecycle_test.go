package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobus/api"
	"gobus/berrors"
	"gobus/config"
	"gobus/feature"
	"gobus/hook"
	"gobus/listener"
	"gobus/rpc"
	"gobus/schema"
	"gobus/transport"
	"gobus/transport/memory"
)

func newTestController(t *testing.T, features feature.Set) (*Controller, *api.Api) {
	t.Helper()
	a := api.New("calc")
	a.AddOperation(api.Operation{
		Name: "Add",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
			return 1.0, nil
		},
	})

	bus := memory.NewBus()
	reg := transport.NewRegistry()
	transports := transport.Transports{
		RPC:    memory.NewRPC(bus),
		Result: memory.NewResult(bus),
		Event:  memory.NewEvent(bus),
		Schema: memory.NewSchema(bus),
	}
	reg.Set(a.Meta.Name, transports)

	apis := api.NewRegistry()
	apis.Add(a)

	coordinator := schema.NewCoordinator(transports.Schema, apis)

	cfg := &config.Config{APIs: map[string]config.APIConfig{
		a.Meta.Name: {RPCTimeout: time.Second, CastValues: true},
	}}

	hooks := hook.NewDispatcher(nil)
	engine := rpc.New(apis, reg, coordinator, hooks, cfg, nil)
	listeners := listener.NewManager(reg, hooks)

	ctrl := New(apis, reg, coordinator, hooks, engine, listeners, cfg, nil, features)
	return ctrl, a
}

func TestLazyLoadNowOpensTransportsOnce(t *testing.T) {
	ctrl, _ := newTestController(t, feature.AllFeatures())

	require.NoError(t, ctrl.LazyLoadNow(context.Background()))
	assert.True(t, ctrl.loaded.Load())

	// A second call must be a no-op, not a second schema/transport pass.
	require.NoError(t, ctrl.LazyLoadNow(context.Background()))
}

func TestLazyLoadNowConcurrentCallersShareOneFlight(t *testing.T) {
	ctrl, _ := newTestController(t, feature.AllFeatures())

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- ctrl.LazyLoadNow(context.Background())
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.True(t, ctrl.loaded.Load())
}

func TestStartServerDisablesRPCsWithNoApis(t *testing.T) {
	ctrl, _ := newTestController(t, feature.AllFeatures())
	ctrl.apis = api.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ctrl.StartServer(ctx, nil))
	assert.False(t, ctrl.features.Has(feature.RPCS))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ctrl.StopServer(stopCtx, nil))
}

func TestStartServerRegistersInternalAPIs(t *testing.T) {
	ctrl, _ := newTestController(t, feature.Set{feature.TASKS: {}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ctrl.StartServer(ctx, nil))

	names := ctrl.apis.Names()
	assert.Contains(t, names, "internal.state")
	assert.Contains(t, names, "internal.metrics")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ctrl.StopServer(stopCtx, nil))
}

func TestStartServerTwiceFails(t *testing.T) {
	ctrl, _ := newTestController(t, feature.Set{feature.TASKS: {}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ctrl.StartServer(ctx, nil))

	err := ctrl.StartServer(ctx, nil)
	var already *berrors.BusAlreadyClosed
	assert.ErrorAs(t, err, &already)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ctrl.StopServer(stopCtx, nil))
}

func TestBackgroundTaskRunsAndStopsOnShutdown(t *testing.T) {
	ctrl, _ := newTestController(t, feature.Set{feature.TASKS: {}})

	started := make(chan struct{})
	stopped := make(chan struct{})
	ctrl.AddBackgroundTask(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ctrl.StartServer(ctx, nil))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("background task never started")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, ctrl.StopServer(stopCtx, nil))

	select {
	case <-stopped:
	default:
		t.Fatal("background task was not cancelled by StopServer")
	}
}

func TestShutdownServerSignalsWaitForShutdown(t *testing.T) {
	ctrl, _ := newTestController(t, feature.AllFeatures())

	done := make(chan int, 1)
	go func() {
		done <- ctrl.WaitForShutdown(context.Background())
	}()

	ctrl.ShutdownServer(7)

	select {
	case code := <-done:
		assert.Equal(t, 7, code)
	case <-time.After(time.Second):
		t.Fatal("WaitForShutdown never returned")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ctrl, _ := newTestController(t, feature.AllFeatures())
	require.NoError(t, ctrl.LazyLoadNow(context.Background()))

	require.NoError(t, ctrl.Close(context.Background()))

	err := ctrl.Close(context.Background())
	var already *berrors.BusAlreadyClosed
	assert.ErrorAs(t, err, &already)
}

func TestCloseWithoutStopServerStopsBackgroundTasks(t *testing.T) {
	ctrl, _ := newTestController(t, feature.Set{feature.TASKS: {}})

	stopped := make(chan struct{})
	ctrl.AddBackgroundTask(func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ctrl.StartServer(ctx, nil))

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, ctrl.Close(closeCtx))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the background task started by StartServer")
	}

	assert.False(t, ctrl.running.Load())
}
