package transport

import (
	"context"
	"reflect"
	"sort"

	"gobus/berrors"
)

// Registry maps API name to the Transports serving it. Mutations are
// expected only during configuration, before a client starts serving;
// reads happen continuously once running. The map is not guarded by a
// lock, so Set and SetDefault are not safe to call concurrently with reads.
type Registry struct {
	byAPI map[string]Transports
}

// NewRegistry creates an empty TransportRegistry.
func NewRegistry() *Registry {
	return &Registry{byAPI: map[string]Transports{}}
}

// Set binds the given Transports to apiName, replacing any previous binding.
func (r *Registry) Set(apiName string, t Transports) {
	r.byAPI[apiName] = t
}

// SetDefault binds t to every name in apiNames that doesn't already have an
// explicit binding — used to install a fallback transport set.
func (r *Registry) SetDefault(t Transports, apiNames ...string) {
	for _, name := range apiNames {
		if _, ok := r.byAPI[name]; !ok {
			r.byAPI[name] = t
		}
	}
}

func (r *Registry) lookup(apiName string) (Transports, error) {
	t, ok := r.byAPI[apiName]
	if !ok {
		return Transports{}, &berrors.UnknownApi{APIName: apiName}
	}
	return t, nil
}

// GetRPCTransport returns the RPC transport serving apiName.
func (r *Registry) GetRPCTransport(apiName string) (RPCTransport, error) {
	t, err := r.lookup(apiName)
	if err != nil {
		return nil, err
	}
	return t.RPC, nil
}

// GetResultTransport returns the result transport serving apiName.
func (r *Registry) GetResultTransport(apiName string) (ResultTransport, error) {
	t, err := r.lookup(apiName)
	if err != nil {
		return nil, err
	}
	return t.Result, nil
}

// GetEventTransport returns the event transport serving apiName.
func (r *Registry) GetEventTransport(apiName string) (EventTransport, error) {
	t, err := r.lookup(apiName)
	if err != nil {
		return nil, err
	}
	return t.Event, nil
}

// GetSchemaTransport returns the schema transport serving apiName.
func (r *Registry) GetSchemaTransport(apiName string) (SchemaTransport, error) {
	t, err := r.lookup(apiName)
	if err != nil {
		return nil, err
	}
	return t.Schema, nil
}

// RPCTransportGroup groups the API names sharing one RPC transport handle,
// so a single consume loop can serve all of them at once.
type RPCTransportGroup struct {
	Transport RPCTransport
	APINames  []string
}

// GetRPCTransports groups apiNames by the identity of their RPC transport.
func (r *Registry) GetRPCTransports(apiNames []string) ([]RPCTransportGroup, error) {
	order := []RPCTransport{}
	byTransport := map[RPCTransport][]string{}
	for _, name := range apiNames {
		t, err := r.GetRPCTransport(name)
		if err != nil {
			return nil, err
		}
		if _, seen := byTransport[t]; !seen {
			order = append(order, t)
		}
		byTransport[t] = append(byTransport[t], name)
	}
	groups := make([]RPCTransportGroup, 0, len(order))
	for _, t := range order {
		groups = append(groups, RPCTransportGroup{Transport: t, APINames: byTransport[t]})
	}
	return groups, nil
}

// OpenCloser is the lifecycle subset every transport kind implements,
// letting the lifecycle controller open/close them uniformly regardless of
// kind.
type OpenCloser interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

// GetAllTransports returns every distinct transport instance registered,
// across all four kinds, deduplicated by identity.
func (r *Registry) GetAllTransports() []OpenCloser {
	seen := map[any]struct{}{}
	var out []OpenCloser
	add := func(t OpenCloser) {
		if t == nil || (reflect.ValueOf(t).Kind() == reflect.Ptr && reflect.ValueOf(t).IsNil()) {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	names := make([]string, 0, len(r.byAPI))
	for name := range r.byAPI {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := r.byAPI[name]
		add(t.RPC)
		add(t.Result)
		add(t.Event)
		add(t.Schema)
	}
	return out
}
