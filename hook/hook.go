// Package hook implements the lifecycle hook dispatcher: named points at
// which user callbacks and plugin-registry callbacks run, in a fixed
// ordering, around a critical operation.
//
// Firing a hook runs, in order: user callbacks registered "before plugins"
// -> the plugin registry's callback for that hook -> user callbacks
// registered "after plugins". Any error short-circuits the remaining
// callbacks and aborts the operation that fired the hook — the same
// fail-fast, ordered-pipeline shape as middleware.Chain's onion model, but
// as three flat pipelines instead of nested closures.
package hook

import "context"

// Name identifies a lifecycle hook point.
type Name string

const (
	BeforeWorkerStart    Name = "before_worker_start"
	AfterWorkerStopped   Name = "after_worker_stopped"
	BeforeRPCCall        Name = "before_rpc_call"
	AfterRPCCall         Name = "after_rpc_call"
	BeforeRPCExecution   Name = "before_rpc_execution"
	AfterRPCExecution    Name = "after_rpc_execution"
	BeforeEventSent      Name = "before_event_sent"
	AfterEventSent       Name = "after_event_sent"
	BeforeEventExecution Name = "before_event_execution"
	AfterEventExecution  Name = "after_event_execution"
)

// Args carries hook-specific keyword arguments. Only the fields relevant
// to the firing hook are populated.
type Args struct {
	RPCMessage    any
	ResultMessage any
	EventMessage  any
}

// Client is the opaque client handle passed to every callback. It is
// declared as an interface here so this package has no dependency on the
// client package; the concrete *client.Client satisfies it trivially.
type Client any

// Callback is a single hook handler.
type Callback func(ctx context.Context, client Client, args Args) error

// PluginRegistry supplies the "plugin" pipeline's callback for a given
// hook name. A nil PluginRegistry, or one whose Callback returns nil, is
// equivalent to no plugins being registered.
type PluginRegistry interface {
	Callback(name Name) Callback
}

// NopPluginRegistry is a PluginRegistry with no callbacks, the default
// when a client is constructed without a real plugin system.
type NopPluginRegistry struct{}

func (NopPluginRegistry) Callback(Name) Callback { return nil }

// Dispatcher owns the before/after-plugin callback lists for every hook
// name and a single PluginRegistry consulted for the plugin stage.
type Dispatcher struct {
	plugins PluginRegistry
	before  map[Name][]Callback
	after   map[Name][]Callback
}

// NewDispatcher creates a Dispatcher. A nil registry is replaced with
// NopPluginRegistry.
func NewDispatcher(registry PluginRegistry) *Dispatcher {
	if registry == nil {
		registry = NopPluginRegistry{}
	}
	return &Dispatcher{
		plugins: registry,
		before:  map[Name][]Callback{},
		after:   map[Name][]Callback{},
	}
}

// RegisterBeforePlugins adds a user callback that runs before the plugin
// registry's callback for name.
func (d *Dispatcher) RegisterBeforePlugins(name Name, cb Callback) {
	d.before[name] = append(d.before[name], cb)
}

// RegisterAfterPlugins adds a user callback that runs after the plugin
// registry's callback for name.
func (d *Dispatcher) RegisterAfterPlugins(name Name, cb Callback) {
	d.after[name] = append(d.after[name], cb)
}

// SetPluginRegistry replaces the plugin-stage collaborator Fire consults,
// for installing a real plugin system (internalapi.MetricsAPI, for
// instance) once it exists, after the Dispatcher itself was constructed.
func (d *Dispatcher) SetPluginRegistry(registry PluginRegistry) {
	if registry == nil {
		registry = NopPluginRegistry{}
	}
	d.plugins = registry
}

// Fire runs the three pipelines for name, in order, stopping at the first
// error.
func (d *Dispatcher) Fire(ctx context.Context, client Client, name Name, args Args) error {
	for _, cb := range d.before[name] {
		if err := cb(ctx, client, args); err != nil {
			return err
		}
	}
	if cb := d.plugins.Callback(name); cb != nil {
		if err := cb(ctx, client, args); err != nil {
			return err
		}
	}
	for _, cb := range d.after[name] {
		if err := cb(ctx, client, args); err != nil {
			return err
		}
	}
	return nil
}
