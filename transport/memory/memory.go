// Package memory implements all four transport interfaces entirely
// in-process, with no network or external service involved. It is the
// transport this module's own tests run against, and a reasonable starting
// point for embedding the bus client in a single process or a test harness.
//
// Its RPC/result pair follows the same multiplexing shape as the TCP
// transport: a pending-call table keyed by an opaque return path,
// populated before the request is ever "sent" so there is no window in
// which a reply can arrive unobserved.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"gobus/berrors"
	"gobus/message"
	"gobus/transport"
)

// Bus is the shared in-process fabric: a set of RPC queues, event topics,
// and schema store. Construct one Bus and derive all four transport kinds
// from it with NewRPC/NewResult/NewEvent/NewSchema so they share the same
// address space.
type Bus struct {
	mu sync.Mutex

	rpcQueues map[string][]*message.RpcMessage
	rpcWait   map[string]chan struct{}

	pending map[string]chan *message.ResultMessage

	subscribers map[string][]chan *message.EventMessage

	schemas map[string]string
	watches []chan map[string]string

	closed bool
}

// NewBus creates an empty in-process fabric.
func NewBus() *Bus {
	return &Bus{
		rpcQueues:   map[string][]*message.RpcMessage{},
		rpcWait:     map[string]chan struct{}{},
		pending:     map[string]chan *message.ResultMessage{},
		subscribers: map[string][]chan *message.EventMessage{},
		schemas:     map[string]string{},
	}
}

// RPC is the transport.RPCTransport over a shared Bus.
type RPC struct{ bus *Bus }

// NewRPC returns an RPCTransport backed by bus.
func NewRPC(bus *Bus) *RPC { return &RPC{bus: bus} }

func (t *RPC) Open(context.Context) error  { return nil }
func (t *RPC) Close(context.Context) error { return nil }

func (t *RPC) CallRPC(ctx context.Context, msg *message.RpcMessage, _ transport.CallOptions) error {
	b := t.bus
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &berrors.TransportIsClosed{Transport: "memory.rpc"}
	}
	b.rpcQueues[msg.APIName] = append(b.rpcQueues[msg.APIName], msg)
	wait, ok := b.rpcWait[msg.APIName]
	b.mu.Unlock()
	if ok {
		select {
		case wait <- struct{}{}:
		default:
		}
	}
	return nil
}

func (t *RPC) Cancel(context.Context, string) error { return nil }

// ConsumeRPCs blocks until a message is queued for one of apiNames, or ctx
// is cancelled, or the transport is closed.
func (t *RPC) ConsumeRPCs(ctx context.Context, apiNames []string) ([]*message.RpcMessage, error) {
	b := t.bus
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, &berrors.TransportIsClosed{Transport: "memory.rpc"}
		}
		var out []*message.RpcMessage
		for _, name := range apiNames {
			if msgs := b.rpcQueues[name]; len(msgs) > 0 {
				out = append(out, msgs...)
				b.rpcQueues[name] = nil
			}
		}
		if len(out) > 0 {
			b.mu.Unlock()
			return out, nil
		}
		wait := make(chan struct{}, 1)
		for _, name := range apiNames {
			b.rpcWait[name] = wait
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Result is the transport.ResultTransport over a shared Bus.
type Result struct{ bus *Bus }

// NewResult returns a ResultTransport backed by bus.
func NewResult(bus *Bus) *Result { return &Result{bus: bus} }

func (t *Result) Open(context.Context) error  { return nil }
func (t *Result) Close(context.Context) error { return nil }

// GetReturnPath allocates the return path and registers its pending
// channel synchronously, before CallRPC is ever invoked by the caller —
// resolving the race the RPC engine's Call flow would otherwise have.
func (t *Result) GetReturnPath(_ context.Context, msg *message.RpcMessage) (string, error) {
	returnPath := uuid.NewString()
	b := t.bus
	b.mu.Lock()
	b.pending[returnPath] = make(chan *message.ResultMessage, 1)
	b.mu.Unlock()
	_ = msg
	return returnPath, nil
}

func (t *Result) SendResult(_ context.Context, _ *message.RpcMessage, resultMsg *message.ResultMessage, returnPath string) error {
	b := t.bus
	b.mu.Lock()
	ch, ok := b.pending[returnPath]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("memory.result: unknown return path %q", returnPath)
	}
	ch <- resultMsg
	return nil
}

func (t *Result) ReceiveResult(ctx context.Context, _ *message.RpcMessage, returnPath string, _ transport.CallOptions) (*message.ResultMessage, error) {
	b := t.bus
	b.mu.Lock()
	ch, ok := b.pending[returnPath]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory.result: unknown return path %q", returnPath)
	}
	defer func() {
		b.mu.Lock()
		delete(b.pending, returnPath)
		b.mu.Unlock()
	}()
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Event is the transport.EventTransport over a shared Bus.
type Event struct{ bus *Bus }

// NewEvent returns an EventTransport backed by bus.
func NewEvent(bus *Bus) *Event { return &Event{bus: bus} }

func (t *Event) Open(context.Context) error  { return nil }
func (t *Event) Close(context.Context) error { return nil }

func topicKey(apiName, eventName string) string { return apiName + "." + eventName }

func (t *Event) SendEvent(_ context.Context, msg *message.EventMessage, _ transport.CallOptions) error {
	b := t.bus
	key := topicKey(msg.APIName, msg.EventName)
	b.mu.Lock()
	subs := append([]chan *message.EventMessage(nil), b.subscribers[key]...)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber: drop rather than block the publisher, matching
			// at-most-once/best-effort fan-out semantics for this reference
			// transport.
		}
	}
	return nil
}

// ConsumeEvents subscribes to events. The returned channel is closed when
// ctx is cancelled; Event.Close and Bus.CloseAll do not close it.
func (t *Event) ConsumeEvents(ctx context.Context, events []transport.EventSelector, _ string, _ transport.CallOptions) (<-chan *message.EventMessage, error) {
	b := t.bus
	out := make(chan *message.EventMessage, 16)
	keys := make([]string, len(events))
	b.mu.Lock()
	for i, ev := range events {
		key := topicKey(ev.APIName, ev.EventName)
		keys[i] = key
		b.subscribers[key] = append(b.subscribers[key], out)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, key := range keys {
			subs := b.subscribers[key]
			for i, ch := range subs {
				if ch == out {
					b.subscribers[key] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		b.mu.Unlock()
		close(out)
	}()

	return out, nil
}

// Schema is the transport.SchemaTransport over a shared Bus.
type Schema struct{ bus *Bus }

// NewSchema returns a SchemaTransport backed by bus.
func NewSchema(bus *Bus) *Schema { return &Schema{bus: bus} }

func (t *Schema) Open(context.Context) error  { return nil }
func (t *Schema) Close(context.Context) error { return nil }

func (t *Schema) Load(context.Context) (map[string]string, error) {
	b := t.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.schemas))
	for k, v := range b.schemas {
		out[k] = v
	}
	return out, nil
}

func (t *Schema) Store(_ context.Context, apiName, schema string) error {
	b := t.bus
	b.mu.Lock()
	b.schemas[apiName] = schema
	watches := append([]chan map[string]string(nil), b.watches...)
	snapshot := make(map[string]string, len(b.schemas))
	for k, v := range b.schemas {
		snapshot[k] = v
	}
	b.mu.Unlock()

	for _, ch := range watches {
		select {
		case ch <- snapshot:
		default:
		}
	}
	return nil
}

func (t *Schema) Monitor(ctx context.Context) (<-chan map[string]string, error) {
	b := t.bus
	out := make(chan map[string]string, 1)
	b.mu.Lock()
	b.watches = append(b.watches, out)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, ch := range b.watches {
			if ch == out {
				b.watches = append(b.watches[:i], b.watches[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(out)
	}()

	return out, nil
}

// CloseAll marks the bus closed: pending ConsumeRPCs calls observe
// TransportIsClosed, and further CallRPC calls are rejected the same way.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, wait := range b.rpcWait {
		select {
		case wait <- struct{}{}:
		default:
		}
	}
}
