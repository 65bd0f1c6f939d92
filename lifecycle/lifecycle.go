// Package lifecycle drives the worker startup/shutdown sequence: lazy
// transport loading, schema registration, spawning the consume/listener/
// background-task goroutines a running server needs, and tearing all of
// it back down again.
//
// golang.org/x/sync/singleflight gates the lazy-init step so a call
// arriving mid-load waits on the same flight instead of racing it; a
// buffered chan int carries the shutdown signal; and a sync.WaitGroup plus
// atomic.Bool — the same pair a graceful-shutdown HTTP-style server uses to
// track in-flight requests and suppress the accept error during shutdown —
// track and gate the background goroutines this controller starts.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"go.uber.org/zap"

	"gobus/api"
	"gobus/berrors"
	"gobus/blog"
	"gobus/config"
	"gobus/feature"
	"gobus/hook"
	"gobus/internalapi"
	"gobus/listener"
	"gobus/rpc"
	"gobus/schema"
	"gobus/scheduler"
	"gobus/transport"
)

// TaskKind distinguishes the background goroutines a Controller tracks, so
// StopServer can target a specific group rather than scanning every
// running goroutine for one it recognizes.
type TaskKind string

const (
	TaskConsumeRPCs    TaskKind = "consume_rpcs"
	TaskSchemaMonitor  TaskKind = "schema_monitor"
	TaskEventListeners TaskKind = "event_listeners"
	TaskBackground     TaskKind = "background"
)

// Controller owns the lazy-load gate and the set of background goroutines
// a running server needs, coordinating their startup and shutdown.
type Controller struct {
	apis      *api.Registry
	registry  *transport.Registry
	schema    *schema.Coordinator
	hooks     *hook.Dispatcher
	rpcEngine *rpc.Engine
	listeners *listener.Manager
	cfg       *config.Config
	logger    *blog.Logger
	features  feature.Set

	stateAPI   *internalapi.StateAPI
	metricsAPI *internalapi.MetricsAPI

	loadGroup    singleflight.Group
	loaded       atomic.Bool
	backgroundMu sync.Mutex
	background   []scheduler.Task

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool
	shutdown chan int
	tasks    map[TaskKind][]context.CancelFunc
}

// New builds a Controller over an already-wired set of collaborators.
func New(apis *api.Registry, registry *transport.Registry, coordinator *schema.Coordinator, hooks *hook.Dispatcher, rpcEngine *rpc.Engine, listeners *listener.Manager, cfg *config.Config, logger *blog.Logger, features feature.Set) *Controller {
	if logger == nil {
		logger = blog.NewNop()
	}
	if features == nil {
		features = feature.AllFeatures()
	}
	return &Controller{
		apis:       apis,
		registry:   registry,
		schema:     coordinator,
		hooks:      hooks,
		rpcEngine:  rpcEngine,
		listeners:  listeners,
		cfg:        cfg,
		logger:     logger,
		features:   features,
		stateAPI:   internalapi.NewStateAPI(apis, features),
		metricsAPI: internalapi.NewMetricsAPI("gobus"),
		tasks:      map[TaskKind][]context.CancelFunc{},
		shutdown:   make(chan int, 1),
	}
}

// MetricsHandler serves the process's accumulated RPC/event counters in
// Prometheus exposition format, for mounting under an admin HTTP mux.
func (c *Controller) MetricsHandler() http.Handler {
	return c.metricsAPI.Handler()
}

// AddBackgroundTask registers a task to be started once StartServer runs,
// mirroring add_background_task/every/schedule's deferred-start contract:
// registration before the server is up, execution once it is, cancellation
// on StopServer.
func (c *Controller) AddBackgroundTask(task scheduler.Task) {
	c.backgroundMu.Lock()
	defer c.backgroundMu.Unlock()
	c.background = append(c.background, task)
}

// LazyLoadNow performs the one-time bus setup a client needs before its
// first network operation: load the remote schema, publish local API
// schemas, and open every registered transport. Concurrent callers share a
// single flight; all return once the first caller's load completes.
func (c *Controller) LazyLoadNow(ctx context.Context) error {
	if c.loaded.Load() {
		return nil
	}
	_, err, _ := c.loadGroup.Do("lazy-load", func() (any, error) {
		if c.loaded.Load() {
			return nil, nil
		}

		if err := c.schema.EnsureLoadedFromBus(ctx); err != nil {
			return nil, fmt.Errorf("lifecycle: load schema: %w", err)
		}

		for _, a := range c.apis.All() {
			if err := c.schema.AddAPI(a); err != nil {
				return nil, fmt.Errorf("lifecycle: publish schema for %s: %w", a.Meta.Name, err)
			}
		}

		for _, t := range c.registry.GetAllTransports() {
			if err := t.Open(ctx); err != nil {
				return nil, fmt.Errorf("lifecycle: open transport: %w", err)
			}
		}

		c.loaded.Store(true)
		return nil, nil
	})
	return err
}

// StartServer brings the worker fully up, in order:
//
//  1. Disable RPCS when no APIs are registered.
//  2. Register the built-in state and metrics APIs, and install the
//     metrics API as the hook plugin registry.
//  3. Run LazyLoadNow (schema load/publish, transport open).
//  4. Log the enabled/disabled feature lists.
//  5. Start schema monitoring, unconditionally regardless of feature
//     gating.
//  6. Fire before_worker_start.
//  7. Start the RPC consume loop, if feature RPCS is enabled.
//  8. Start all registered event listeners, if feature EVENTS is enabled.
//  9. Start all registered background tasks, if feature TASKS is enabled.
//  10. Mark the controller running.
//
// The schema monitor, RPC consume loop and background tasks are recorded
// in the task registry; listener goroutines are tracked by the listener
// manager.
func (c *Controller) StartServer(ctx context.Context, client hook.Client) error {
	c.mu.Lock()
	if c.running.Load() {
		c.mu.Unlock()
		return &berrors.BusAlreadyClosed{}
	}

	if len(c.apis.All()) == 0 && c.features.Has(feature.RPCS) {
		c.logger.Info("lifecycle: disabling RPCS, no APIs registered")
		c.features = c.features.Remove(feature.RPCS)
	}

	// Auto-register the built-in APIs only after the RPCS-disable check
	// above, which must see only user-registered APIs.
	c.apis.Add(c.stateAPI.Build())
	c.apis.Add(c.metricsAPI.Build())
	c.hooks.SetPluginRegistry(c.metricsAPI)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.LazyLoadNow(runCtx); err != nil {
		cancel()
		return err
	}

	c.logger.Bullets(fmt.Sprintf("Enabled features (%d)", len(c.features)), c.features.Names())
	c.logger.Bullets(fmt.Sprintf("Disabled features (%d)", len(c.features.Disabled())), c.features.Disabled())

	c.spawn(TaskSchemaMonitor, runCtx, func(taskCtx context.Context) error {
		return c.schema.Monitor(taskCtx)
	})

	if err := c.hooks.Fire(runCtx, client, hook.BeforeWorkerStart, hook.Args{}); err != nil {
		cancel()
		return fmt.Errorf("lifecycle: before_worker_start: %w", err)
	}

	if c.features.Has(feature.RPCS) {
		c.spawn(TaskConsumeRPCs, runCtx, func(taskCtx context.Context) error {
			return c.rpcEngine.Consume(taskCtx, client, nil)
		})
	}

	if c.features.Has(feature.EVENTS) {
		// Subscribed synchronously: StartAll only returns once every
		// listener's ConsumeEvents call has registered, so an event fired
		// right after StartServer returns cannot race the subscribe step.
		if err := c.listeners.StartAll(runCtx, client); err != nil {
			cancel()
			return fmt.Errorf("lifecycle: start event listeners: %w", err)
		}
	}

	if c.features.Has(feature.TASKS) {
		c.backgroundMu.Lock()
		tasks := c.background
		c.backgroundMu.Unlock()
		for _, task := range tasks {
			task := task
			c.spawn(TaskBackground, runCtx, task)
		}
	}

	c.running.Store(true)
	return nil
}

// spawn runs fn in its own tracked goroutine under runCtx, recording its
// cancel function under kind so StopServer can target it specifically. A
// task that panics, or returns an error while its context is still live,
// is logged and requests shutdown with exit code 1.
func (c *Controller) spawn(kind TaskKind, runCtx context.Context, fn func(context.Context) error) {
	taskCtx, cancel := context.WithCancel(runCtx)

	c.mu.Lock()
	c.tasks[kind] = append(c.tasks[kind], cancel)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("lifecycle: background task panicked", zap.String("task", string(kind)), zap.Any("panic", r))
				c.ShutdownServer(1)
			}
		}()
		if err := fn(taskCtx); err != nil && taskCtx.Err() == nil {
			c.logger.Error("lifecycle: background task failed", zap.String("task", string(kind)), zap.Error(err))
			c.ShutdownServer(1)
		}
	}()
}

// StopServer cancels every task this controller started and waits for them
// to exit, then fires after_worker_stopped.
func (c *Controller) StopServer(ctx context.Context, client hook.Client) error {
	c.mu.Lock()
	if !c.running.Load() {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.listeners.StopAll()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	c.running.Store(false)
	return c.hooks.Fire(ctx, client, hook.AfterWorkerStopped, hook.Args{})
}

// ShutdownServer signals a running server to stop, for use from a signal
// handler or an admin endpoint, mirroring shutdown_server's
// write-once-to-queue semantics: a second call while one is already
// pending is a no-op rather than blocking.
func (c *Controller) ShutdownServer(exitCode int) {
	select {
	case c.shutdown <- exitCode:
	default:
	}
}

// WaitForShutdown blocks until ShutdownServer is called or ctx is done,
// returning the exit code passed to ShutdownServer (or 0 if ctx ended
// first).
func (c *Controller) WaitForShutdown(ctx context.Context) int {
	select {
	case code := <-c.shutdown:
		return code
	case <-ctx.Done():
		return 0
	}
}

// Close tears down every registered transport, after independently
// cancelling and waiting for any task this controller started — the same
// work StopServer does, run here too since a caller may call Close
// straight after StartServer without an intervening StopServer. It is
// idempotent; a second call after a successful first is a no-op,
// returning BusAlreadyClosed.
func (c *Controller) Close(ctx context.Context) error {
	if !c.loaded.CompareAndSwap(true, false) {
		return &berrors.BusAlreadyClosed{}
	}

	c.mu.Lock()
	cancel := c.cancel
	wasRunning := c.running.Load()
	c.mu.Unlock()

	if wasRunning {
		if cancel != nil {
			cancel()
		}
		c.listeners.StopAll()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}

		c.running.Store(false)
	}

	var firstErr error
	for _, t := range c.registry.GetAllTransports() {
		if err := t.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lifecycle: close transport: %w", err)
		}
	}
	return firstErr
}

// RunForever starts the server, blocks until shutdown is requested or ctx
// is cancelled, then stops the server and closes transports — a single
// blocking call suited to a process entry point.
func (c *Controller) RunForever(ctx context.Context, client hook.Client) (exitCode int, err error) {
	if err := c.StartServer(ctx, client); err != nil {
		return 1, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	exitCode = c.WaitForShutdown(runCtx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if stopErr := c.StopServer(stopCtx, client); stopErr != nil && err == nil {
		err = stopErr
	}
	if closeErr := c.Close(stopCtx); closeErr != nil && err == nil {
		err = closeErr
	}
	return exitCode, err
}
