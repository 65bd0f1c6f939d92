// Package registry defines the service discovery interface that
// transport/tcprpc's client uses to turn an API name into a set of
// dialable addresses.
package registry

// ServiceInstance is one running instance of an API's tcprpc server.
// Weight feeds loadbalance.WeightedRandomBalancer; Addr alone is what
// loadbalance.ConsistentHashBalancer hashes into its ring.
type ServiceInstance struct {
	Addr    string
	Weight  int
	Version string
}

// Registry is the interface for service registration and discovery.
// EtcdRegistry is the production implementation; registry_test.go's
// fakeRegistry stands in for it in tests that don't need a live etcd.
type Registry interface {
	// Register adds instance under serviceName with a TTL lease; it is
	// removed automatically if the lease isn't renewed before ttl expires.
	Register(serviceName string, instance ServiceInstance, ttl int64) error

	// Deregister removes addr from serviceName ahead of closing it, so a
	// graceful shutdown doesn't leave a dead instance for a client to
	// dial before its lease would otherwise expire.
	Deregister(serviceName string, addr string) error

	// Discover returns serviceName's currently registered instances, for
	// loadbalance.Balancer.Pick to choose among.
	Discover(serviceName string) ([]ServiceInstance, error)

	// Watch streams serviceName's instance list on every change.
	Watch(serviceName string) <-chan []ServiceInstance
}
