// Package transport defines the pluggable transport interfaces (RPC,
// result, event, schema) and the registry that binds API names to the
// transport handles that serve them.
//
// Concrete transports are external collaborators: this package specifies
// only the contracts. Reference implementations live in the sibling
// packages transport/memory, transport/tcprpc, transport/redisevent, and
// transport/etcdschema.
package transport

import (
	"context"
	"time"

	"gobus/message"
)

// CallOptions carries per-call, transport-specific options. The RPC engine
// always populates Timeout from config.APIConfig.RPCTimeout (or a per-call
// override); everything else is transport-defined and carried in Extra.
type CallOptions struct {
	Timeout time.Duration
	Extra   map[string]any
}

// RPCTransport serves and places remote procedure calls.
type RPCTransport interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// ConsumeRPCs blocks until at least one RpcMessage addressed to one of
	// apiNames is available, or the transport is closed (in which case it
	// returns a *berrors.TransportIsClosed error).
	ConsumeRPCs(ctx context.Context, apiNames []string) ([]*message.RpcMessage, error)

	// CallRPC places a call. It returns once the request has been
	// transmitted; the response is retrieved separately via the paired
	// ResultTransport.
	CallRPC(ctx context.Context, msg *message.RpcMessage, opts CallOptions) error

	// Cancel best-effort cancels an in-flight call. Transports that cannot
	// support cancellation may return nil unconditionally.
	Cancel(ctx context.Context, messageID string) error
}

// ResultTransport correlates RPC requests with their results.
type ResultTransport interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// GetReturnPath produces the opaque routing token embedded in an
	// RpcMessage before it is dispatched. Implementations that need to
	// register a listener for the corresponding result MUST do so here,
	// synchronously, before returning — this is what closes the race
	// between CallRPC completing and ReceiveResult starting to listen.
	GetReturnPath(ctx context.Context, msg *message.RpcMessage) (string, error)

	SendResult(ctx context.Context, rpcMsg *message.RpcMessage, resultMsg *message.ResultMessage, returnPath string) error
	ReceiveResult(ctx context.Context, rpcMsg *message.RpcMessage, returnPath string, opts CallOptions) (*message.ResultMessage, error)
}

// EventTransport publishes and consumes events.
type EventTransport interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	SendEvent(ctx context.Context, msg *message.EventMessage, opts CallOptions) error

	// ConsumeEvents returns a channel of events matching the given
	// (api, event) pairs for the named consumer group (listenerName). The
	// channel is closed when ctx is cancelled or the transport closes.
	ConsumeEvents(ctx context.Context, events []EventSelector, listenerName string, opts CallOptions) (<-chan *message.EventMessage, error)
}

// EventSelector names one (api, event) pair an event listener subscribes to.
type EventSelector struct {
	APIName, EventName string
}

// SchemaTransport persists and distributes API schemas.
type SchemaTransport interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	Load(ctx context.Context) (map[string]string, error)
	Store(ctx context.Context, apiName, schema string) error

	// Monitor streams (api_name -> schema) changes until ctx is cancelled.
	Monitor(ctx context.Context) (<-chan map[string]string, error)
}

// Transports groups the four transport handles serving one API.
type Transports struct {
	RPC    RPCTransport
	Result ResultTransport
	Event  EventTransport
	Schema SchemaTransport
}
