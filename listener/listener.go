// Package listener tracks event subscriptions and starts/stops the
// per-listener consumer goroutines that run them, once the lifecycle
// controller brings the server up under feature EVENTS.
//
// Follows the usual per-connection-goroutine accept shape, applied here
// to one goroutine per registered listener instead of one per inbound
// connection.
package listener

import (
	"context"
	"sync"

	"gobus/berrors"
	"gobus/hook"
	"gobus/message"
	"gobus/transport"
)

// Handler processes one event delivered to a listener.
type Handler func(ctx context.Context, msg *message.EventMessage) error

// Listener is a registered event subscription: a set of (api, event) pairs,
// a handler, a stable name, and transport-specific options.
type Listener struct {
	Events  []transport.EventSelector
	Handler Handler
	Name    string
	Options map[string]any

	cancel context.CancelFunc
}

// Manager records listener registrations and starts/stops their consumer
// goroutines as a group.
type Manager struct {
	registry *transport.Registry
	hooks    *hook.Dispatcher

	mu        sync.Mutex
	listeners map[string]*Listener
	wg        sync.WaitGroup
}

// NewManager builds a Manager that resolves event transports via registry
// and fires before/after_event_execution hooks via hooks.
func NewManager(registry *transport.Registry, hooks *hook.Dispatcher) *Manager {
	return &Manager{
		registry:  registry,
		hooks:     hooks,
		listeners: map[string]*Listener{},
	}
}

// ListenForEvent registers a single-event listener.
func (m *Manager) ListenForEvent(apiName, eventName, listenerName string, handler Handler, options map[string]any) error {
	return m.ListenForEvents([]transport.EventSelector{{APIName: apiName, EventName: eventName}}, listenerName, handler, options)
}

// ListenForEvents registers a multi-event listener. listenerName must be
// unique among this manager's active listeners (invariant 1) and stable
// across deployments, since it doubles as a consumer-group identity for
// transports like transport/redisevent.
func (m *Manager) ListenForEvents(events []transport.EventSelector, listenerName string, handler Handler, options map[string]any) error {
	if listenerName == "" {
		return &berrors.InvalidEventListener{Reason: "listener_name must not be empty"}
	}
	if handler == nil {
		return &berrors.InvalidEventListener{Reason: "handler must not be nil"}
	}
	if len(events) == 0 {
		return &berrors.InvalidEventListener{Reason: "at least one event must be given"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.listeners[listenerName]; exists {
		return &berrors.InvalidEventListener{Reason: "listener_name " + listenerName + " is already registered"}
	}
	m.listeners[listenerName] = &Listener{
		Events:  events,
		Handler: handler,
		Name:    listenerName,
		Options: options,
	}
	return nil
}

// StartAll subscribes every registered listener to its event transports
// before returning, then spawns one dispatch goroutine per
// (listener, transport) pair to run handlers as events arrive. Subscribing
// synchronously, rather than inside the spawned goroutine, guarantees an
// event fired right after StartAll returns cannot race the subscribe call
// and be missed by a transport with no replay (e.g. transport/memory).
func (m *Manager) StartAll(ctx context.Context, client hook.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		listenerCtx, cancel := context.WithCancel(ctx)
		l.cancel = cancel

		byTransport := map[transport.EventTransport][]transport.EventSelector{}
		order := []transport.EventTransport{}
		for _, sel := range l.Events {
			t, err := m.registry.GetEventTransport(sel.APIName)
			if err != nil {
				continue
			}
			if _, seen := byTransport[t]; !seen {
				order = append(order, t)
			}
			byTransport[t] = append(byTransport[t], sel)
		}

		for _, t := range order {
			events, err := t.ConsumeEvents(listenerCtx, byTransport[t], l.Name, transport.CallOptions{})
			if err != nil {
				continue
			}
			l, events := l, events
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				for msg := range events {
					m.dispatch(listenerCtx, client, l, msg)
				}
			}()
		}
	}
	return nil
}

// StopAll cancels every running listener's consumer goroutine and waits
// for them to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for _, l := range m.listeners {
		if l.cancel != nil {
			l.cancel()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) dispatch(ctx context.Context, client hook.Client, l *Listener, msg *message.EventMessage) {
	args := hook.Args{EventMessage: msg}
	if err := m.hooks.Fire(ctx, client, hook.BeforeEventExecution, args); err != nil {
		return
	}
	_ = l.Handler(ctx, msg)
	_ = m.hooks.Fire(ctx, client, hook.AfterEventExecution, args)
}
