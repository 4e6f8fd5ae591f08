// Package registry advertises facade endpoints so clients can find them by service
// name instead of a fixed host and port.
package registry

import (
	"context"
)

// ServiceInstance is one advertised facade endpoint
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight,omitempty"` // Weight for load balancing
	Version string `json:"version,omitempty"`

	// Free-form attributes, e.g. the wire codec or a device serial
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Registry interface {

	// Register advertises instance under serviceName for ttl seconds, renewed until
	// Deregister or Close
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error

	// Deregister withdraws the instance advertised at addr
	Deregister(ctx context.Context, serviceName string, addr string) error

	// Discover returns the instances currently advertised under serviceName
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)

	// Watch emits the full instance list whenever it changes. The channel is closed
	// once ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance

	// Close withdraws everything this registry advertised and releases it
	Close() error
}
