package loadbalance

import (
	"sync/atomic"

	"sl4a-rpc/registry"
)

// RoundRobinBalancer cycles through the instances in order. A lock-free atomic counter
// keeps it goroutine-safe.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
