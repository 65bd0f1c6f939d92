// Package internalapi provides the two built-in APIs every running server
// auto-registers: a state/liveness API and a call-metrics API.
//
// MetricsAPI's counters follow the usual promauto-built CounterVec/
// HistogramVec shape, narrowed to a per-instance prometheus.Registry rather
// than the package-global one so more than one MetricsAPI can coexist in a
// process (as in this package's own tests).
package internalapi

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gobus/api"
	"gobus/feature"
	"gobus/hook"
	"gobus/message"
)

const (
	StateAPIName   = "internal.state"
	MetricsAPIName = "internal.metrics"
)

// StateAPI answers liveness/introspection queries: what's registered on
// this process and how long it has been running.
type StateAPI struct {
	startedAt time.Time
	apis      *api.Registry
	features  feature.Set
}

// NewStateAPI builds a StateAPI reporting on apis/features as of the
// moment it's asked, not as of construction.
func NewStateAPI(apis *api.Registry, features feature.Set) *StateAPI {
	return &StateAPI{startedAt: time.Now(), apis: apis, features: features}
}

// Build returns the api.Api this StateAPI exposes, ready for
// api.Registry.Add.
func (s *StateAPI) Build() *api.Api {
	a := api.New(StateAPIName)
	a.AddOperation(api.Operation{Name: "Ping", Handler: s.ping})
	a.AddOperation(api.Operation{Name: "State", Handler: s.state})
	return a
}

func (s *StateAPI) ping(ctx context.Context, kwargs map[string]any) (any, error) {
	return map[string]any{"pong": true}, nil
}

func (s *StateAPI) state(ctx context.Context, kwargs map[string]any) (any, error) {
	return map[string]any{
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"apis":           s.apis.Names(),
		"features":       s.features.Names(),
		"goroutines":     runtime.NumGoroutine(),
	}, nil
}

// MetricsAPI records RPC and event counters via the hook plugin pipeline
// (it implements hook.PluginRegistry directly, the same seam a real
// plugin system would use) and exposes both a Prometheus scrape handler
// and an RPC-queryable snapshot operation.
type MetricsAPI struct {
	registry *prometheus.Registry

	rpcCallsTotal   *prometheus.CounterVec
	rpcErrorsTotal  *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec
	eventsSent      *prometheus.CounterVec
	eventsExecuted  *prometheus.CounterVec

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewMetricsAPI builds a MetricsAPI with its own Prometheus registry under
// namespace (e.g. "gobus").
func NewMetricsAPI(namespace string) *MetricsAPI {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsAPI{
		registry: registry,
		rpcCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "calls_total",
			Help: "Total number of RPC calls placed by this process.",
		}, []string{"api", "procedure"}),
		rpcErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "errors_total",
			Help: "Total number of RPC calls that returned an error result.",
		}, []string{"api", "procedure"}),
		rpcCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "call_duration_seconds",
			Help:    "Duration of RPC calls placed by this process.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"api", "procedure"}),
		eventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "sent_total",
			Help: "Total number of events fired by this process.",
		}, []string{"api", "event"}),
		eventsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "executed_total",
			Help: "Total number of events handled by a local listener.",
		}, []string{"api", "event"}),
		pending: map[string]time.Time{},
	}
}

// Build returns the api.Api this MetricsAPI exposes.
func (m *MetricsAPI) Build() *api.Api {
	a := api.New(MetricsAPIName)
	a.AddOperation(api.Operation{Name: "Snapshot", Handler: m.snapshot})
	return a
}

// Handler serves the registered counters in the Prometheus exposition
// format, for mounting under "/metrics".
func (m *MetricsAPI) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsAPI) snapshot(ctx context.Context, kwargs map[string]any) (any, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		var total float64
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
		out[mf.GetName()] = total
	}
	return out, nil
}

// Callback satisfies hook.PluginRegistry: it records metrics around RPC
// calls, event sends and local event executions, leaving every other hook
// name unobserved.
func (m *MetricsAPI) Callback(name hook.Name) hook.Callback {
	switch name {
	case hook.BeforeRPCCall:
		return m.beforeRPCCall
	case hook.AfterRPCCall:
		return m.afterRPCCall
	case hook.AfterEventSent:
		return m.afterEventSent
	case hook.AfterEventExecution:
		return m.afterEventExecution
	default:
		return nil
	}
}

func (m *MetricsAPI) beforeRPCCall(ctx context.Context, client hook.Client, args hook.Args) error {
	msg, ok := args.RPCMessage.(*message.RpcMessage)
	if !ok {
		return nil
	}
	m.mu.Lock()
	m.pending[msg.ID.String()] = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *MetricsAPI) afterRPCCall(ctx context.Context, client hook.Client, args hook.Args) error {
	msg, ok := args.RPCMessage.(*message.RpcMessage)
	if !ok {
		return nil
	}

	m.mu.Lock()
	start, found := m.pending[msg.ID.String()]
	delete(m.pending, msg.ID.String())
	m.mu.Unlock()

	m.rpcCallsTotal.WithLabelValues(msg.APIName, msg.ProcedureName).Inc()
	if found {
		m.rpcCallDuration.WithLabelValues(msg.APIName, msg.ProcedureName).Observe(time.Since(start).Seconds())
	}
	if res, ok := args.ResultMessage.(*message.ResultMessage); ok && res.Error {
		m.rpcErrorsTotal.WithLabelValues(msg.APIName, msg.ProcedureName).Inc()
	}
	return nil
}

func (m *MetricsAPI) afterEventSent(ctx context.Context, client hook.Client, args hook.Args) error {
	msg, ok := args.EventMessage.(*message.EventMessage)
	if !ok {
		return nil
	}
	m.eventsSent.WithLabelValues(msg.APIName, msg.EventName).Inc()
	return nil
}

func (m *MetricsAPI) afterEventExecution(ctx context.Context, client hook.Client, args hook.Args) error {
	msg, ok := args.EventMessage.(*message.EventMessage)
	if !ok {
		return nil
	}
	m.eventsExecuted.WithLabelValues(msg.APIName, msg.EventName).Inc()
	return nil
}
