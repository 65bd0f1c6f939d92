package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobus/api"
	"gobus/berrors"
	"gobus/config"
	"gobus/hook"
	"gobus/schema"
	"gobus/transport"
	"gobus/transport/memory"
)

func newTestEngine(t *testing.T, a *api.Api) (*Engine, *transport.Registry) {
	t.Helper()
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
	require.NoError(t, coordinator.AddAPI(a))
	require.NoError(t, coordinator.EnsureLoadedFromBus(context.Background()))

	cfg := &config.Config{APIs: map[string]config.APIConfig{
		a.Meta.Name: {RPCTimeout: time.Second, CastValues: true},
	}}

	engine := New(apis, reg, coordinator, hook.NewDispatcher(nil), cfg, nil)
	return engine, reg
}

func addOp(t *testing.T) *api.Api {
	t.Helper()
	a := api.New("calc")
	a.AddOperation(api.Operation{
		Name: "Add",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
			x, _ := kwargs["X"].(float64)
			y, _ := kwargs["Y"].(float64)
			return x + y, nil
		},
	})
	return a
}

func TestCallRemoteRoundTrip(t *testing.T) {
	a := addOp(t)
	engine, _ := newTestEngine(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		_ = engine.Consume(ctx, nil, nil)
	}()

	result, err := engine.CallRemote(ctx, nil, "calc", "Add", map[string]any{"X": 2.0, "Y": 3.0}, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestCallRemoteUnknownProcedure(t *testing.T) {
	a := addOp(t)
	engine, _ := newTestEngine(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go func() {
		_ = engine.Consume(ctx, nil, nil)
	}()

	_, err := engine.CallRemote(ctx, nil, "calc", "Subtract", nil, CallOptions{})
	require.Error(t, err)
	var serverErr *berrors.LightbusServerError
	assert.ErrorAs(t, err, &serverErr)
}

func TestCallRemoteTimeoutWithNoConsumer(t *testing.T) {
	a := addOp(t)
	engine, _ := newTestEngine(t, a)

	ctx := context.Background()
	_, err := engine.CallRemote(ctx, nil, "calc", "Add", map[string]any{"X": 1.0, "Y": 1.0}, CallOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	var timeoutErr *berrors.LightbusTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestConsumeNoApis(t *testing.T) {
	a := addOp(t)
	engine, _ := newTestEngine(t, a)
	engine.apis = api.NewRegistry()

	err := engine.Consume(context.Background(), nil, nil)
	var noApis *berrors.NoApisToListenOn
	assert.ErrorAs(t, err, &noApis)
}

func TestSuddenDeathExceptionTerminatesConsumer(t *testing.T) {
	a := api.New("calc")
	a.AddOperation(api.Operation{
		Name: "Die",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
			return nil, &berrors.SuddenDeathException{}
		},
	})
	engine, _ := newTestEngine(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	consumeErr := make(chan error, 1)
	go func() { consumeErr <- engine.Consume(ctx, nil, nil) }()

	callCtx, callCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer callCancel()
	_, _ = engine.CallRemote(callCtx, nil, "calc", "Die", nil, CallOptions{})

	select {
	case err := <-consumeErr:
		var died *berrors.SuddenDeathException
		require.ErrorAs(t, err, &died)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not terminate after SuddenDeathException")
	}
}

func TestContextCanceledHandlerDropsResultInsteadOfError(t *testing.T) {
	a := api.New("calc")
	a.AddOperation(api.Operation{
		Name: "Cancelled",
		Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
			return nil, context.Canceled
		},
	})
	engine, _ := newTestEngine(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = engine.Consume(ctx, nil, nil) }()

	callCtx, callCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer callCancel()
	// A handler reporting context.Canceled must not produce a generic
	// LightbusServerError: the request is dropped with no result, so the
	// caller sees its own call-side timeout instead.
	_, err := engine.CallRemote(callCtx, nil, "calc", "Cancelled", nil, CallOptions{})
	require.Error(t, err)
	var timeoutErr *berrors.LightbusTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestHooksFireAroundRemoteCall(t *testing.T) {
	a := addOp(t)
	engine, _ := newTestEngine(t, a)
	dispatcher := hook.NewDispatcher(nil)
	engine.hooks = dispatcher

	var before, after bool
	dispatcher.RegisterBeforePlugins(hook.BeforeRPCCall, func(ctx context.Context, client hook.Client, args hook.Args) error {
		before = true
		return nil
	})
	dispatcher.RegisterAfterPlugins(hook.AfterRPCCall, func(ctx context.Context, client hook.Client, args hook.Args) error {
		after = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = engine.Consume(ctx, nil, nil) }()

	_, err := engine.CallRemote(ctx, nil, "calc", "Add", map[string]any{"X": 1.0, "Y": 1.0}, CallOptions{})
	require.NoError(t, err)
	assert.True(t, before)
	assert.True(t, after)
}
