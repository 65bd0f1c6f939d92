// Package berrors defines the bus client's error taxonomy.
//
// Errors are typed so callers can distinguish kinds with errors.As/errors.Is
// rather than matching on message strings, in keeping with the rest of this
// module's idiom (see message, api, transport for the same convention).
package berrors

import (
	"fmt"
	"time"
)

// UnknownApi is raised when an API name is not present in the API registry.
type UnknownApi struct {
	APIName string
}

func (e *UnknownApi) Error() string {
	return fmt.Sprintf("unknown api %q", e.APIName)
}

// EventNotFound is raised when an event name is not declared on an API.
type EventNotFound struct {
	APIName, EventName string
}

func (e *EventNotFound) Error() string {
	return fmt.Sprintf("event %q not found on api %q", e.EventName, e.APIName)
}

// InvalidEventArguments is raised when kwargs do not match an event's schema.
type InvalidEventArguments struct {
	APIName, EventName string
	Reason             string
}

func (e *InvalidEventArguments) Error() string {
	return fmt.Sprintf("invalid arguments for event %s.%s: %s", e.APIName, e.EventName, e.Reason)
}

// InvalidEventListener is raised when a listener's handler or name is invalid.
type InvalidEventListener struct {
	Reason string
}

func (e *InvalidEventListener) Error() string {
	return fmt.Sprintf("invalid event listener: %s", e.Reason)
}

// InvalidName is raised for a syntactically invalid api/procedure/event name.
type InvalidName struct {
	Kind, Name string
}

func (e *InvalidName) Error() string {
	return fmt.Sprintf("invalid %s name %q", e.Kind, e.Name)
}

// InvalidSchedule is raised when a scheduler primitive is registered with a
// zero duration.
type InvalidSchedule struct {
	Reason string
}

func (e *InvalidSchedule) Error() string {
	return fmt.Sprintf("invalid schedule: %s", e.Reason)
}

// NoApisToListenOn is returned by rpc.Engine.Consume when it has no API to
// consume RPCs for.
type NoApisToListenOn struct{}

func (e *NoApisToListenOn) Error() string {
	return "no apis to consume rpcs on: either an empty api set was passed explicitly, or the api registry is empty"
}

// LightbusTimeout is raised when an RPC call exceeds its deadline.
type LightbusTimeout struct {
	CanonicalName string
	Timeout       time.Duration
}

func (e *LightbusTimeout) Error() string {
	return fmt.Sprintf(
		"timeout calling rpc %s after %s: no process may be serving this api, or it is taking too long to respond",
		e.CanonicalName, e.Timeout,
	)
}

// LightbusServerError is raised when a remote RPC call returns an error result.
type LightbusServerError struct {
	CanonicalName string
	Description   string
	Trace         string
}

func (e *LightbusServerError) Error() string {
	return fmt.Sprintf("error calling %s: %s\nremote trace:\n%s", e.CanonicalName, e.Description, e.Trace)
}

// BusAlreadyClosed is raised by a second call to Close.
type BusAlreadyClosed struct{}

func (e *BusAlreadyClosed) Error() string {
	return "bus client is already closed"
}

// TransportIsClosed signals that a consume loop should terminate normally.
// It is absorbed by the RPC/event engines, never surfaced to a caller.
type TransportIsClosed struct {
	Transport string
}

func (e *TransportIsClosed) Error() string {
	return fmt.Sprintf("transport %s is closed", e.Transport)
}

// UnsupportedUse is raised when an invalid feature name is configured.
type UnsupportedUse struct {
	Value   string
	Allowed []string
}

func (e *UnsupportedUse) Error() string {
	return fmt.Sprintf("unsupported value %q, must be one of %v", e.Value, e.Allowed)
}

// SuddenDeathException is a testing-only error: raising it from an RPC
// handler terminates the consumer task immediately instead of producing an
// error result.
type SuddenDeathException struct{}

func (e *SuddenDeathException) Error() string {
	return "sudden death exception (testing hook)"
}
