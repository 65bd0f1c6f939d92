package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	instances map[string][]ServiceInstance
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{instances: map[string][]ServiceInstance{}}
}

func (f *fakeRegistry) Register(serviceName string, instance ServiceInstance, _ int64) error {
	f.instances[serviceName] = append(f.instances[serviceName], instance)
	return nil
}

func (f *fakeRegistry) Deregister(serviceName string, addr string) error {
	out := f.instances[serviceName][:0]
	for _, inst := range f.instances[serviceName] {
		if inst.Addr != addr {
			out = append(out, inst)
		}
	}
	f.instances[serviceName] = out
	return nil
}

func (f *fakeRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	return f.instances[serviceName], nil
}

func (f *fakeRegistry) Watch(string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance)
	close(ch)
	return ch
}

var _ Registry = (*fakeRegistry)(nil)

func TestFakeRegistryRegisterDiscoverDeregister(t *testing.T) {
	r := newFakeRegistry()
	require.NoError(t, r.Register("widgets", ServiceInstance{Addr: "127.0.0.1:9000", Weight: 1}, 10))

	instances, err := r.Discover("widgets")
	require.NoError(t, err)
	assert.Len(t, instances, 1)
	assert.Equal(t, "127.0.0.1:9000", instances[0].Addr)

	require.NoError(t, r.Deregister("widgets", "127.0.0.1:9000"))
	instances, err = r.Discover("widgets")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestServiceInstanceJSONRoundTrip(t *testing.T) {
	instance := ServiceInstance{Addr: "10.0.0.1:1234", Weight: 5, Version: "v2"}

	data, err := json.Marshal(instance)
	require.NoError(t, err)

	var out ServiceInstance
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, instance, out)
}
