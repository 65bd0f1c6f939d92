// Package message defines the envelope types exchanged between a bus
// client and its transports: RPC requests, RPC results, and events.
//
// RpcMessage and EventMessage embed the common Message base (an API name
// plus a kwargs payload); ResultMessage instead carries the ID of the
// RpcMessage it answers. RpcMessage is immutable after
// construction except for ReturnPath, which a result transport sets
// exactly once before the message is dispatched.
package message

import "github.com/google/uuid"

// Message is the common base embedded by RpcMessage and EventMessage.
type Message struct {
	APIName string
	Kwargs  map[string]any
}

// RpcMessage carries a single remote procedure call request.
//
// ReturnPath is opaque to the RPC engine: it is produced by a
// ResultTransport (ResultTransport.GetReturnPath) and is only meaningful
// to that same transport's ReceiveResult/SendResult pair.
type RpcMessage struct {
	Message
	ID            uuid.UUID
	ProcedureName string
	ReturnPath    string
}

// NewRpcMessage builds an RpcMessage with a fresh ID. kwargs may be nil.
func NewRpcMessage(apiName, procedureName string, kwargs map[string]any) *RpcMessage {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &RpcMessage{
		Message:       Message{APIName: apiName, Kwargs: kwargs},
		ID:            uuid.New(),
		ProcedureName: procedureName,
	}
}

// CanonicalName returns "api_name.procedure_name", the name used in logs
// and error messages.
func (m *RpcMessage) CanonicalName() string {
	return m.APIName + "." + m.ProcedureName
}

// ResultMessage carries the reply to a single RpcMessage.
//
// Invariant: Error => Result holds a human-readable description of the
// failure and Trace holds the remote stack/context; validation is skipped
// for error results. !Error => Result is validated against the declared
// response schema.
type ResultMessage struct {
	RpcMessageID uuid.UUID
	Result       any
	Error        bool
	Trace        string
}

// NewSuccessResult builds a non-error ResultMessage.
func NewSuccessResult(rpcMessageID uuid.UUID, result any) *ResultMessage {
	return &ResultMessage{RpcMessageID: rpcMessageID, Result: result}
}

// NewErrorResult builds an error ResultMessage carrying a description and
// a trace of the remote failure.
func NewErrorResult(rpcMessageID uuid.UUID, description, trace string) *ResultMessage {
	return &ResultMessage{
		RpcMessageID: rpcMessageID,
		Result:       description,
		Error:        true,
		Trace:        trace,
	}
}

// EventMessage carries a single fire-and-forget event.
type EventMessage struct {
	Message
	ID        uuid.UUID
	EventName string
}

// NewEventMessage builds an EventMessage with a fresh ID. kwargs may be nil.
func NewEventMessage(apiName, eventName string, kwargs map[string]any) *EventMessage {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &EventMessage{
		Message:   Message{APIName: apiName, Kwargs: kwargs},
		ID:        uuid.New(),
		EventName: eventName,
	}
}

// CanonicalName returns "api_name.event_name".
func (m *EventMessage) CanonicalName() string {
	return m.APIName + "." + m.EventName
}
