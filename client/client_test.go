package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobus/api"
	"gobus/config"
	"gobus/feature"
	"gobus/hook"
	"gobus/message"
	"gobus/rpc"
	"gobus/transport"
	"gobus/transport/memory"
)

func newTestClient(t *testing.T, features feature.Set) *Client {
	t.Helper()
	bus := memory.NewBus()
	reg := transport.NewRegistry()
	transports := transport.Transports{
		RPC:    memory.NewRPC(bus),
		Result: memory.NewResult(bus),
		Event:  memory.NewEvent(bus),
		Schema: memory.NewSchema(bus),
	}
	reg.SetDefault(transports, "calc", "internal.state", "internal.metrics")

	cfg := &config.Config{APIs: map[string]config.APIConfig{
		"calc": {RPCTimeout: time.Second, CastValues: true},
	}}

	return New(cfg, reg, transports.Schema, nil, features)
}

func addAPI() *api.Api {
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

func TestClientCallRPCRoundTrip(t *testing.T) {
	c := newTestClient(t, feature.AllFeatures())
	c.RegisterAPI(addAPI())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.StartServer(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = c.StopServer(stopCtx)
	}()

	result, err := c.CallRPC(context.Background(), "calc", "Add", map[string]any{"X": 2.0, "Y": 4.0}, rpc.CallOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 6.0, result)
}

func TestClientFireEventDeliversToListener(t *testing.T) {
	c := newTestClient(t, feature.AllFeatures())
	c.RegisterAPI(addAPI())

	var mu sync.Mutex
	var received map[string]any
	delivered := make(chan struct{})

	require.NoError(t, c.ListenForEvent("calc", "Added", "test-listener", func(ctx context.Context, msg *message.EventMessage) error {
		mu.Lock()
		received = msg.Kwargs
		mu.Unlock()
		close(delivered)
		return nil
	}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.StartServer(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = c.StopServer(stopCtx)
	}()

	require.NoError(t, c.FireEvent(context.Background(), "calc", "Added", map[string]any{"sum": 3.0}))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("event was never delivered to the listener")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3.0, received["sum"])
}

func TestClientHookRegistrationOrdering(t *testing.T) {
	c := newTestClient(t, feature.AllFeatures())
	c.RegisterAPI(addAPI())

	var order []string
	c.BeforeRPCCall(func(ctx context.Context, client hook.Client, args hook.Args) error {
		order = append(order, "before")
		return nil
	}, true)
	c.AfterRPCCall(func(ctx context.Context, client hook.Client, args hook.Args) error {
		order = append(order, "after")
		return nil
	}, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.StartServer(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = c.StopServer(stopCtx)
	}()

	_, err := c.CallRPC(context.Background(), "calc", "Add", map[string]any{"X": 1.0, "Y": 1.0}, rpc.CallOptions{Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, order)
}

func TestClientStartServerWithoutAPIsRegistersInternalAPIs(t *testing.T) {
	c := newTestClient(t, feature.AllFeatures())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.StartServer(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = c.StopServer(stopCtx)
	}()

	assert.Contains(t, c.apis.Names(), "internal.state")
}
