// Package tcprpc is the default RPC and Result transport pair: a
// multiplexed TCP wire protocol for placing calls, paired with etcd-backed
// service discovery and a pluggable load-balancing strategy for picking
// which instance to call.
//
// It builds on four sibling packages: protocol and codec as the wire
// layer, registry for instance discovery, and loadbalance for instance
// selection — generalized onto this module's message.RpcMessage/
// ResultMessage and codec.Frame.
package tcprpc

import (
	"context"
	"fmt"

	"gobus/blog"
	"gobus/codec"
	"gobus/loadbalance"
	"gobus/message"
	"gobus/registry"
	"gobus/transport"
)

// Options configures a Transport. Addr, when non-empty, causes the
// Transport to listen for inbound calls (the callee/server role).
// Registry and Balancer, when non-nil, let the Transport place outbound
// calls (the caller/client role). A Transport used purely as a client
// leaves Addr empty; one used purely as a server leaves Registry nil.
type Options struct {
	Addr      string
	Registry  registry.Registry
	Balancer  loadbalance.Balancer
	CodecType codec.CodecType
	Logger    *blog.Logger
}

// Transport implements both transport.RPCTransport and
// transport.ResultTransport over the multiplexed TCP wire protocol.
type Transport struct {
	opts   Options
	client *client
	server *server
}

// New constructs a Transport per opts. The listener, if configured, is
// opened immediately since inbound connections may begin arriving before
// Open is called by the lifecycle controller.
func New(opts Options) (*Transport, error) {
	if opts.Logger == nil {
		opts.Logger = blog.NewNop()
	}
	t := &Transport{opts: opts}
	if opts.Registry != nil {
		t.client = newClient(opts.Registry, opts.Balancer, opts.CodecType)
	}
	if opts.Addr != "" {
		s, err := listen(opts.Addr, opts.CodecType, opts.Logger)
		if err != nil {
			return nil, err
		}
		t.server = s
	}
	return t, nil
}

func (t *Transport) Open(context.Context) error { return nil }

func (t *Transport) Close(ctx context.Context) error {
	var firstErr error
	if t.client != nil {
		if err := t.client.closeAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if t.server != nil {
		if err := t.server.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Transport) ConsumeRPCs(ctx context.Context, apiNames []string) ([]*message.RpcMessage, error) {
	if t.server == nil {
		return nil, fmt.Errorf("tcprpc: transport has no listener configured")
	}
	return t.server.consumeRPCs(ctx, apiNames)
}

func (t *Transport) CallRPC(ctx context.Context, msg *message.RpcMessage, opts transport.CallOptions) error {
	if t.client == nil {
		return fmt.Errorf("tcprpc: transport has no registry/balancer configured")
	}
	return t.client.callRPC(ctx, msg, opts)
}

func (t *Transport) Cancel(ctx context.Context, messageID string) error {
	if t.client == nil {
		return nil
	}
	return t.client.cancel(ctx, messageID)
}

func (t *Transport) GetReturnPath(ctx context.Context, msg *message.RpcMessage) (string, error) {
	if t.client == nil {
		return "", fmt.Errorf("tcprpc: transport has no registry/balancer configured")
	}
	return t.client.getReturnPath(ctx, msg)
}

func (t *Transport) SendResult(ctx context.Context, rpcMsg *message.RpcMessage, resultMsg *message.ResultMessage, returnPath string) error {
	if t.server == nil {
		return fmt.Errorf("tcprpc: transport has no listener configured")
	}
	return t.server.sendResult(ctx, rpcMsg, resultMsg, returnPath)
}

func (t *Transport) ReceiveResult(ctx context.Context, rpcMsg *message.RpcMessage, returnPath string, opts transport.CallOptions) (*message.ResultMessage, error) {
	if t.client == nil {
		return nil, fmt.Errorf("tcprpc: transport has no registry/balancer configured")
	}
	return t.client.receiveResult(ctx, rpcMsg, returnPath, opts)
}
