// Package schema loads remote API schemas from the bus, publishes local
// ones, and validates messages against them at the four points a schema
// check applies: outgoing/incoming RpcMessage, outgoing/incoming
// ResultMessage.
//
// The load/store/watch shape mirrors an etcd-backed service registry
// (repurposed by transport/etcdschema for schema documents instead of
// service instance records), with the coordination logic here
// transport-agnostic over transport.SchemaTransport.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"gobus/api"
	"gobus/berrors"
	"gobus/transport"
)

// Direction names which side of a message exchange is being validated.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Document is the JSON-schema-lite description this module stores and
// compares against: one entry per declared parameter/field name to its
// Go kind, as produced by api.paramTypesOf.
type Document struct {
	Operations map[string]OperationSchema `json:"operations"`
	Events     map[string]FieldSet        `json:"events"`
}

// OperationSchema describes one operation's accepted parameters (nil when
// the operation declares none). No response field set is recorded.
type OperationSchema struct {
	Params FieldSet `json:"params"`
}

// FieldSet maps a field name to its Go kind string (reflect.Kind.String()).
type FieldSet map[string]string

// Coordinator owns the local registry's schema view and keeps it synced
// with the remote SchemaTransport.
type Coordinator struct {
	transport transport.SchemaTransport
	apis      *api.Registry

	mu      sync.RWMutex
	remote  map[string]Document // api name -> parsed remote document
	local   map[string]Document // api name -> this process's own document
	loaded  bool
	loadErr error
	once    sync.Once
}

// NewCoordinator builds a Coordinator bound to t for schema storage and
// apis for discovering which operations/events this process exposes.
func NewCoordinator(t transport.SchemaTransport, apis *api.Registry) *Coordinator {
	return &Coordinator{
		transport: t,
		apis:      apis,
		remote:    map[string]Document{},
		local:     map[string]Document{},
	}
}

// AddAPI records apiName's document as this process's own, to be pushed to
// the bus the next time EnsureLoadedFromBus runs (or immediately, if it
// already has).
func (c *Coordinator) AddAPI(a *api.Api) error {
	doc := Document{
		Operations: map[string]OperationSchema{},
		Events:     map[string]FieldSet{},
	}
	for _, name := range a.OperationNames() {
		op, _ := a.Operation(name)
		doc.Operations[name] = OperationSchema{Params: fieldSetOf(op.ParamTypes)}
	}
	for _, name := range a.EventNames() {
		ev, _ := a.Event(name)
		doc.Events[name] = fieldSetOf(ev.ParamTypes)
	}

	c.mu.Lock()
	c.local[a.Meta.Name] = doc
	alreadyLoaded := c.loaded
	c.mu.Unlock()

	if alreadyLoaded {
		return c.publish(context.Background(), a.Meta.Name, doc)
	}
	return nil
}

func fieldSetOf(paramTypes map[string]reflect.Type) FieldSet {
	if len(paramTypes) == 0 {
		return nil
	}
	out := make(FieldSet, len(paramTypes))
	for name, typ := range paramTypes {
		out[name] = typ.Kind().String()
	}
	return out
}

// EnsureLoadedFromBus runs the load-then-publish sequence exactly once; any
// concurrent or subsequent caller observes the same outcome.
func (c *Coordinator) EnsureLoadedFromBus(ctx context.Context) error {
	c.once.Do(func() {
		c.loadErr = c.loadAndPublish(ctx)
		c.mu.Lock()
		c.loaded = true
		c.mu.Unlock()
	})
	return c.loadErr
}

func (c *Coordinator) loadAndPublish(ctx context.Context) error {
	raw, err := c.transport.Load(ctx)
	if err != nil {
		return fmt.Errorf("schema: load from bus: %w", err)
	}
	remote := make(map[string]Document, len(raw))
	for apiName, blob := range raw {
		var doc Document
		if err := json.Unmarshal([]byte(blob), &doc); err != nil {
			return fmt.Errorf("schema: decode document for %s: %w", apiName, err)
		}
		remote[apiName] = doc
	}

	c.mu.Lock()
	c.remote = remote
	local := make(map[string]Document, len(c.local))
	for k, v := range c.local {
		local[k] = v
	}
	c.mu.Unlock()

	for apiName, doc := range local {
		if err := c.publish(ctx, apiName, doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, apiName string, doc Document) error {
	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schema: encode document for %s: %w", apiName, err)
	}
	if err := c.transport.Store(ctx, apiName, string(blob)); err != nil {
		return fmt.Errorf("schema: publish %s: %w", apiName, err)
	}
	c.mu.Lock()
	c.remote[apiName] = doc
	c.mu.Unlock()
	return nil
}

// Monitor refreshes the remote schema view whenever the transport reports a
// change, until ctx is cancelled.
func (c *Coordinator) Monitor(ctx context.Context) error {
	updates, err := c.transport.Monitor(ctx)
	if err != nil {
		return fmt.Errorf("schema: monitor: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snapshot, ok := <-updates:
			if !ok {
				return nil
			}
			remote := make(map[string]Document, len(snapshot))
			for apiName, blob := range snapshot {
				var doc Document
				if err := json.Unmarshal([]byte(blob), &doc); err != nil {
					continue
				}
				remote[apiName] = doc
			}
			c.mu.Lock()
			c.remote = remote
			c.mu.Unlock()
		}
	}
}

// Validate checks kwargs/result field names against the declared schema for
// apiName.procedureName, in the given direction. A field present that isn't
// declared is reported; a declared field that is absent is not.
func (c *Coordinator) Validate(direction Direction, apiName, procedureName string, fields map[string]any) error {
	c.mu.RLock()
	doc, ok := c.remote[apiName]
	if !ok {
		doc, ok = c.local[apiName]
	}
	c.mu.RUnlock()
	if !ok {
		return &berrors.UnknownApi{APIName: apiName}
	}
	opSchema, ok := doc.Operations[procedureName]
	if !ok {
		// Events and untyped operations have no declared field set to
		// check against; nothing to validate.
		return nil
	}
	if opSchema.Params == nil {
		return nil
	}
	for name := range fields {
		if _, declared := opSchema.Params[name]; !declared {
			return &berrors.InvalidEventArguments{
				APIName:   apiName,
				EventName: procedureName,
				Reason:    fmt.Sprintf("%s field %q is not declared on %s.%s", direction, name, apiName, procedureName),
			}
		}
	}
	return nil
}
