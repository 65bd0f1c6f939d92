package tcprpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gobus/codec"
	"gobus/loadbalance"
	"gobus/message"
	"gobus/registry"
	"gobus/transport"
)

type staticRegistry struct {
	instances []registry.ServiceInstance
}

func (r *staticRegistry) Register(string, registry.ServiceInstance, int64) error { return nil }
func (r *staticRegistry) Deregister(string, string) error                       { return nil }
func (r *staticRegistry) Discover(string) ([]registry.ServiceInstance, error) {
	return r.instances, nil
}
func (r *staticRegistry) Watch(string) <-chan []registry.ServiceInstance {
	ch := make(chan []registry.ServiceInstance)
	close(ch)
	return ch
}

func TestTransportRoundTripCallAndResult(t *testing.T) {
	serverT, err := New(Options{Addr: "127.0.0.1:0", CodecType: codec.CodecTypeJSON})
	require.NoError(t, err)
	defer serverT.Close(context.Background())

	addr := serverT.server.listener.Addr().String()
	reg := &staticRegistry{instances: []registry.ServiceInstance{{Addr: addr, Weight: 1}}}
	clientT, err := New(Options{
		Registry:  reg,
		Balancer:  &loadbalance.RoundRobinBalancer{},
		CodecType: codec.CodecTypeJSON,
	})
	require.NoError(t, err)
	defer clientT.Close(context.Background())

	req := message.NewRpcMessage("widgets", "create", map[string]any{"n": float64(1)})

	returnPath, err := clientT.GetReturnPath(context.Background(), req)
	require.NoError(t, err)
	req.ReturnPath = returnPath

	require.NoError(t, clientT.CallRPC(context.Background(), req, transport.CallOptions{}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	received, err := serverT.ConsumeRPCs(ctx, []string{"widgets"})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "widgets.create", received[0].CanonicalName())

	resultMsg := message.NewSuccessResult(received[0].ID, map[string]any{"ok": true})
	require.NoError(t, serverT.SendResult(context.Background(), received[0], resultMsg, received[0].ReturnPath))

	got, err := clientT.ReceiveResult(context.Background(), req, returnPath, transport.CallOptions{})
	require.NoError(t, err)
	assert.False(t, got.Error)
}

func TestTransportCallRPCWithoutClientSideFails(t *testing.T) {
	serverOnly, err := New(Options{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer serverOnly.Close(context.Background())

	_, err = serverOnly.GetReturnPath(context.Background(), message.NewRpcMessage("a", "b", nil))
	require.Error(t, err)
}

func TestTransportConsumeRPCsWithoutServerSideFails(t *testing.T) {
	reg := &staticRegistry{}
	clientOnly, err := New(Options{Registry: reg, Balancer: &loadbalance.RoundRobinBalancer{}})
	require.NoError(t, err)
	defer clientOnly.Close(context.Background())

	_, err = clientOnly.ConsumeRPCs(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestEncodeDecodeReturnPathRoundTrip(t *testing.T) {
	rp := encodeReturnPath("127.0.0.1:9000", 7)
	addr, seq, err := decodeReturnPath(rp)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", addr)
	assert.Equal(t, uint32(7), seq)
}

func TestDecodeReturnPathRejectsMalformed(t *testing.T) {
	_, _, err := decodeReturnPath("no-hash-here")
	require.Error(t, err)
}
