// Package client provides Client, the single facade over every package in
// this module: API registry, transport registry, hook dispatcher, schema
// coordinator, RPC engine, event listener manager, and lifecycle
// controller.
//
// RegisterAPI/CallRPC/FireEvent/ListenForEvent(s)/AddBackgroundTask/Every/
// Schedule/RunForever/Close form the public surface a process embeds this
// module through, and the ten OnStart/BeforeRPCCall/... methods are thin
// wrappers registering callbacks on the hook.Dispatcher.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gobus/api"
	"gobus/blog"
	"gobus/config"
	"gobus/deform"
	"gobus/feature"
	"gobus/hook"
	"gobus/lifecycle"
	"gobus/listener"
	"gobus/message"
	"gobus/rpc"
	"gobus/schema"
	"gobus/scheduler"
	"gobus/transport"
)

// Client is the bus client's public entry point.
type Client struct {
	apis      *api.Registry
	registry  *transport.Registry
	schema    *schema.Coordinator
	hooks     *hook.Dispatcher
	rpcEngine *rpc.Engine
	listeners *listener.Manager
	lifecycle *lifecycle.Controller
	cfg       *config.Config
	logger    *blog.Logger
}

// New wires every collaborator together: registry is the transport
// registry describing which transports serve which APIs, schemaTransport
// stores/distributes schema documents, cfg supplies per-API settings, and
// features gates which subsystems StartServer brings up.
func New(cfg *config.Config, registry *transport.Registry, schemaTransport transport.SchemaTransport, logger *blog.Logger, features feature.Set) *Client {
	if logger == nil {
		logger = blog.NewNop()
	}
	if features == nil {
		features = feature.AllFeatures()
	}

	apis := api.NewRegistry()
	hooks := hook.NewDispatcher(nil)
	coordinator := schema.NewCoordinator(schemaTransport, apis)
	rpcEngine := rpc.New(apis, registry, coordinator, hooks, cfg, logger)
	listeners := listener.NewManager(registry, hooks)
	controller := lifecycle.New(apis, registry, coordinator, hooks, rpcEngine, listeners, cfg, logger, features)

	return &Client{
		apis:      apis,
		registry:  registry,
		schema:    coordinator,
		hooks:     hooks,
		rpcEngine: rpcEngine,
		listeners: listeners,
		lifecycle: controller,
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterAPI adds a served API to the registry. Call this for every API
// this process should handle RPCs for or fire events on, before
// StartServer/RunForever.
func (c *Client) RegisterAPI(a *api.Api) {
	c.apis.Add(a)
}

// APIs

// CallRPC places a remote procedure call and returns its (deformed)
// result, performing lazy bus setup on first use.
func (c *Client) CallRPC(ctx context.Context, apiName, procedureName string, kwargs map[string]any, opts rpc.CallOptions) (any, error) {
	if err := c.lifecycle.LazyLoadNow(ctx); err != nil {
		return nil, err
	}
	return c.rpcEngine.CallRemote(ctx, c, apiName, procedureName, kwargs, opts)
}

// Events

// FireEvent publishes an event onto the bus, firing before/after_event_sent
// hooks around the send.
func (c *Client) FireEvent(ctx context.Context, apiName, eventName string, kwargs map[string]any) error {
	if err := c.lifecycle.LazyLoadNow(ctx); err != nil {
		return err
	}

	msg := message.NewEventMessage(apiName, eventName, deform.KwargsToBus(kwargs))
	args := hook.Args{EventMessage: msg}

	if err := c.hooks.Fire(ctx, c, hook.BeforeEventSent, args); err != nil {
		return err
	}

	eventTransport, err := c.registry.GetEventTransport(apiName)
	if err != nil {
		return err
	}
	if err := eventTransport.SendEvent(ctx, msg, transport.CallOptions{}); err != nil {
		return fmt.Errorf("client: send event %s: %w", msg.CanonicalName(), err)
	}

	return c.hooks.Fire(ctx, c, hook.AfterEventSent, args)
}

// ListenForEvent registers a single-event listener. Wraps ListenForEvents.
func (c *Client) ListenForEvent(apiName, eventName, listenerName string, handler listener.Handler, options map[string]any) error {
	return c.listeners.ListenForEvent(apiName, eventName, listenerName, handler, options)
}

// ListenForEvents registers a listener spanning multiple (api, event)
// pairs under one stable listenerName.
func (c *Client) ListenForEvents(events []transport.EventSelector, listenerName string, handler listener.Handler, options map[string]any) error {
	return c.listeners.ListenForEvents(events, listenerName, handler, options)
}

// Background tasks and scheduling

// AddBackgroundTask registers a task to run once StartServer brings the
// TASKS feature up; it is cancelled on StopServer.
func (c *Client) AddBackgroundTask(task scheduler.Task) {
	c.lifecycle.AddBackgroundTask(task)
}

// Every registers fn as a background task run at the given interval. See
// scheduler.Every for the exact timing semantics.
func (c *Client) Every(duration time.Duration, runImmediately bool, fn scheduler.Callable) error {
	task, err := scheduler.Every(duration, runImmediately, fn)
	if err != nil {
		return err
	}
	c.AddBackgroundTask(task)
	return nil
}

// Schedule registers fn as a background task run according to spec. See
// scheduler.Schedule.
func (c *Client) Schedule(spec scheduler.Spec, runImmediately bool, fn scheduler.Callable) error {
	task, err := scheduler.Schedule(spec, runImmediately, fn)
	if err != nil {
		return err
	}
	c.AddBackgroundTask(task)
	return nil
}

// Lifecycle

// StartServer brings the worker fully up: see lifecycle.Controller.StartServer.
func (c *Client) StartServer(ctx context.Context) error {
	return c.lifecycle.StartServer(ctx, c)
}

// StopServer cancels every task this client started and waits for them to
// exit.
func (c *Client) StopServer(ctx context.Context) error {
	return c.lifecycle.StopServer(ctx, c)
}

// RunForever starts the server, blocks until shutdown is requested (via
// ShutdownServer or ctx cancellation), then stops and closes the bus.
func (c *Client) RunForever(ctx context.Context) (exitCode int, err error) {
	return c.lifecycle.RunForever(ctx, c)
}

// ShutdownServer requests RunForever/WaitForShutdown to return with
// exitCode.
func (c *Client) ShutdownServer(exitCode int) {
	c.lifecycle.ShutdownServer(exitCode)
}

// Close tears down every registered transport. Safe to call once, after
// which it returns berrors.BusAlreadyClosed.
func (c *Client) Close(ctx context.Context) error {
	return c.lifecycle.Close(ctx)
}

// MetricsHandler serves the built-in metrics API's Prometheus exposition,
// for mounting at an admin endpoint alongside RunForever.
func (c *Client) MetricsHandler() http.Handler {
	return c.lifecycle.MetricsHandler()
}

// Hooks
//
// Each method registers cb for the named lifecycle point. beforePlugins
// places cb ahead of the plugin-registry callback for that point instead
// of after it.

func (c *Client) OnStart(cb hook.Callback, beforePlugins bool) {
	c.register(hook.BeforeWorkerStart, beforePlugins, cb)
}

func (c *Client) OnStop(cb hook.Callback, beforePlugins bool) {
	c.register(hook.AfterWorkerStopped, beforePlugins, cb)
}

func (c *Client) BeforeRPCCall(cb hook.Callback, beforePlugins bool) {
	c.register(hook.BeforeRPCCall, beforePlugins, cb)
}

func (c *Client) AfterRPCCall(cb hook.Callback, beforePlugins bool) {
	c.register(hook.AfterRPCCall, beforePlugins, cb)
}

func (c *Client) BeforeRPCExecution(cb hook.Callback, beforePlugins bool) {
	c.register(hook.BeforeRPCExecution, beforePlugins, cb)
}

func (c *Client) AfterRPCExecution(cb hook.Callback, beforePlugins bool) {
	c.register(hook.AfterRPCExecution, beforePlugins, cb)
}

func (c *Client) BeforeEventSent(cb hook.Callback, beforePlugins bool) {
	c.register(hook.BeforeEventSent, beforePlugins, cb)
}

func (c *Client) AfterEventSent(cb hook.Callback, beforePlugins bool) {
	c.register(hook.AfterEventSent, beforePlugins, cb)
}

func (c *Client) BeforeEventExecution(cb hook.Callback, beforePlugins bool) {
	c.register(hook.BeforeEventExecution, beforePlugins, cb)
}

func (c *Client) AfterEventExecution(cb hook.Callback, beforePlugins bool) {
	c.register(hook.AfterEventExecution, beforePlugins, cb)
}

func (c *Client) register(name hook.Name, beforePlugins bool, cb hook.Callback) {
	if beforePlugins {
		c.hooks.RegisterBeforePlugins(name, cb)
	} else {
		c.hooks.RegisterAfterPlugins(name, cb)
	}
}
