package internalapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobus/api"
	"gobus/feature"
	"gobus/hook"
	"gobus/message"
)

func TestStateAPIPingAndState(t *testing.T) {
	apis := api.NewRegistry()
	apis.Add(api.New("calc"))
	state := NewStateAPI(apis, feature.AllFeatures())
	built := state.Build()

	op, ok := built.Operation("Ping")
	require.True(t, ok)
	result, err := op.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pong": true}, result)

	op, ok = built.Operation("State")
	require.True(t, ok)
	result, err = op.Handler(context.Background(), nil)
	require.NoError(t, err)
	snapshot := result.(map[string]any)
	assert.Contains(t, snapshot["apis"], "calc")
	assert.Contains(t, snapshot["features"], "RPCS")
}

func TestMetricsAPIRecordsRPCCalls(t *testing.T) {
	m := NewMetricsAPI("gobus_test")
	built := m.Build()
	dispatcher := hook.NewDispatcher(m)

	msg := message.NewRpcMessage("calc", "Add", map[string]any{"X": 1.0})
	res := message.NewSuccessResult(msg.ID, 2.0)

	require.NoError(t, dispatcher.Fire(context.Background(), nil, hook.BeforeRPCCall, hook.Args{RPCMessage: msg}))
	require.NoError(t, dispatcher.Fire(context.Background(), nil, hook.AfterRPCCall, hook.Args{RPCMessage: msg, ResultMessage: res}))

	op, ok := built.Operation("Snapshot")
	require.True(t, ok)
	result, err := op.Handler(context.Background(), nil)
	require.NoError(t, err)
	snapshot := result.(map[string]float64)
	assert.Equal(t, float64(1), snapshot["gobus_test_rpc_calls_total"])
	assert.Equal(t, float64(0), snapshot["gobus_test_rpc_errors_total"])
}

func TestMetricsAPIRecordsRPCErrors(t *testing.T) {
	m := NewMetricsAPI("gobus_test")
	msg := message.NewRpcMessage("calc", "Add", nil)
	errRes := message.NewErrorResult(msg.ID, "boom", "")

	require.NoError(t, m.beforeRPCCall(context.Background(), nil, hook.Args{RPCMessage: msg}))
	require.NoError(t, m.afterRPCCall(context.Background(), nil, hook.Args{RPCMessage: msg, ResultMessage: errRes}))

	families, err := m.registry.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "gobus_test_rpc_errors_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestMetricsAPIHandlerServesExposition(t *testing.T) {
	m := NewMetricsAPI("gobus_test")
	assert.NotNil(t, m.Handler())
}
