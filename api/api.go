// Package api defines the Api and ApiRegistry types: a named group of RPC
// operations and event declarations, and the registry that maps API names
// to served Api objects.
package api

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"gobus/berrors"
)

// Handler is the signature every registered operation must satisfy: it
// receives the call context and the (possibly cast) kwargs, and returns a
// result or an error.
type Handler func(ctx context.Context, kwargs map[string]any) (any, error)

// Operation is a single RPC-callable method declared on an Api. ParamTypes
// is optional: when present, casting.ToSignature uses it to coerce kwargs
// before Handler runs (gated by the owning API's CastValues config).
type Operation struct {
	Name       string
	Handler    Handler
	ParamTypes map[string]reflect.Type
}

// EventDeclaration names an event an Api may fire, for schema/validation
// purposes. ParamTypes is optional, same semantics as Operation.
type EventDeclaration struct {
	Name       string
	ParamTypes map[string]reflect.Type
}

// Meta carries an Api's identity.
type Meta struct {
	Name string
}

// Api groups a named set of operations and event declarations.
type Api struct {
	Meta       Meta
	operations map[string]*Operation
	events     map[string]*EventDeclaration
}

// New creates an empty Api with the given name.
func New(name string) *Api {
	return &Api{
		Meta:       Meta{Name: name},
		operations: map[string]*Operation{},
		events:     map[string]*EventDeclaration{},
	}
}

// AddOperation registers an operation on the API. It overwrites any
// previously registered operation of the same name.
func (a *Api) AddOperation(op Operation) *Api {
	a.operations[op.Name] = &op
	return a
}

// AddEvent declares an event the API may fire.
func (a *Api) AddEvent(ev EventDeclaration) *Api {
	a.events[ev.Name] = &ev
	return a
}

// Operation looks up a declared operation by name.
func (a *Api) Operation(name string) (*Operation, bool) {
	op, ok := a.operations[name]
	return op, ok
}

// Event looks up a declared event by name.
func (a *Api) Event(name string) (*EventDeclaration, bool) {
	ev, ok := a.events[name]
	return ev, ok
}

// OperationNames returns every declared operation name, sorted.
func (a *Api) OperationNames() []string {
	names := make([]string, 0, len(a.operations))
	for name := range a.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventNames returns every declared event name, sorted.
func (a *Api) EventNames() []string {
	names := make([]string, 0, len(a.events))
	for name := range a.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry maps API name to served Api. Safe for concurrent use: Add is
// expected during configuration, Get/All/Names during operation, but both
// are protected so misuse is not a data race.
type Registry struct {
	mu   sync.RWMutex
	apis map[string]*Api
}

// NewRegistry creates an empty ApiRegistry.
func NewRegistry() *Registry {
	return &Registry{apis: map[string]*Api{}}
}

// Add registers an Api, replacing any previous registration of the same name.
func (r *Registry) Add(a *Api) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apis[a.Meta.Name] = a
}

// Get looks up an Api by name, returning berrors.UnknownApi if absent.
func (r *Registry) Get(name string) (*Api, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apis[name]
	if !ok {
		return nil, &berrors.UnknownApi{APIName: name}
	}
	return a, nil
}

// All returns every registered Api, in name order.
func (r *Registry) All() []*Api {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Api, 0, len(r.apis))
	for _, a := range r.apis {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Meta.Name < out[j].Meta.Name })
	return out
}

// Names returns every registered API name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.apis))
	for name := range r.apis {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromStruct scans the exported methods of a pointer-to-struct receiver for
// the convention func(ctx context.Context, args *ArgsType) (*ReplyType, error)
// and registers a matching Operation per method, named after the method —
// a reflective convenience path for services built around Go-struct method
// sets, adapted to the kwargs-based Handler signature used throughout this
// module.
//
// Methods that don't match the convention are silently skipped.
func FromStruct(name string, rcvr any) (*Api, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("api: FromStruct requires a pointer to struct, got %T", rcvr)
	}

	errorType := reflect.TypeOf((*error)(nil)).Elem()
	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
	val := reflect.ValueOf(rcvr)
	a := New(name)

	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		mtype := method.Type

		// receiver + ctx + *Args == 3 inputs; (*Reply, error) == 2 outputs
		if mtype.NumIn() != 3 || mtype.NumOut() != 2 {
			continue
		}
		if mtype.In(1) != ctxType {
			continue
		}
		if mtype.In(2).Kind() != reflect.Ptr || mtype.In(2).Elem().Kind() != reflect.Struct {
			continue
		}
		if mtype.Out(1) != errorType {
			continue
		}

		argType := mtype.In(2).Elem()
		paramTypes := paramTypesOf(argType)
		boundMethod := val.MethodByName(method.Name)

		a.AddOperation(Operation{
			Name:       method.Name,
			ParamTypes: paramTypes,
			Handler: func(ctx context.Context, kwargs map[string]any) (any, error) {
				argPtr := reflect.New(argType)
				if err := populateStruct(argPtr.Elem(), kwargs); err != nil {
					return nil, err
				}
				results := boundMethod.Call([]reflect.Value{reflect.ValueOf(ctx), argPtr})
				if errVal := results[1]; !errVal.IsNil() {
					return nil, errVal.Interface().(error)
				}
				return results[0].Interface(), nil
			},
		})
	}
	return a, nil
}

func paramTypesOf(structType reflect.Type) map[string]reflect.Type {
	out := map[string]reflect.Type{}
	for i := 0; i < structType.NumField(); i++ {
		f := structType.Field(i)
		if f.IsExported() {
			out[f.Name] = f.Type
		}
	}
	return out
}

func populateStruct(dst reflect.Value, kwargs map[string]any) error {
	structType := dst.Type()
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		v, ok := kwargs[field.Name]
		if !ok {
			continue
		}
		fv := reflect.ValueOf(v)
		if !fv.IsValid() {
			continue
		}
		if !fv.Type().AssignableTo(field.Type) {
			if fv.Type().ConvertibleTo(field.Type) {
				fv = fv.Convert(field.Type)
			} else {
				return fmt.Errorf("api: cannot assign %s to field %s (%s)", fv.Type(), field.Name, field.Type)
			}
		}
		dst.Field(i).Set(fv)
	}
	return nil
}
