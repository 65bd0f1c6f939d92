// Package etcdschema implements transport.SchemaTransport on top of etcd,
// storing each API's schema document under a flat key prefix and watching
// that prefix for changes.
//
// It follows the usual etcd service-registry shape — Put/Get-with-prefix/
// Watch — applied here to schema documents instead of service instance
// records. Like a typical registry Watch loop, it re-fetches the full key
// space on any change notification rather than diffing individual events —
// simpler, and schema documents are small.
package etcdschema

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/gobus/schema/"

// Transport is a transport.SchemaTransport backed by an etcd cluster.
type Transport struct {
	client *clientv3.Client
	owns   bool
}

// New wraps an existing etcd client. The caller remains responsible for
// closing it.
func New(client *clientv3.Client) *Transport {
	return &Transport{client: client}
}

// Dial creates a Transport that owns its etcd client, closing it on Close.
func Dial(endpoints []string) (*Transport, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &Transport{client: c, owns: true}, nil
}

func (t *Transport) Open(context.Context) error { return nil }

func (t *Transport) Close(context.Context) error {
	if t.owns {
		return t.client.Close()
	}
	return nil
}

// Store writes an API's schema document to /gobus/schema/{apiName}.
func (t *Transport) Store(ctx context.Context, apiName, schema string) error {
	_, err := t.client.Put(ctx, keyPrefix+apiName, schema)
	return err
}

// Load fetches every schema document currently stored under the prefix.
func (t *Transport) Load(ctx context.Context) (map[string]string, error) {
	resp, err := t.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		apiName := string(kv.Key)[len(keyPrefix):]
		out[apiName] = string(kv.Value)
	}
	return out, nil
}

// Monitor watches the schema prefix and emits the full schema map on every
// change, until ctx is cancelled.
func (t *Transport) Monitor(ctx context.Context) (<-chan map[string]string, error) {
	out := make(chan map[string]string, 1)
	watchChan := t.client.Watch(ctx, keyPrefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for range watchChan {
			snapshot, err := t.Load(ctx)
			if err != nil {
				continue
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

var _ fmt.Stringer = (*Transport)(nil)

// String identifies the transport in logs.
func (t *Transport) String() string { return "etcdschema.Transport" }
