// Package loadbalance picks one facade endpoint when a service has several.
//
// Three strategies are implemented:
//   - RoundRobin:      spread sessions evenly over equivalent facades
//   - WeightedRandom:  favor facades with a higher advertised weight
//   - ConsistentHash:  pin a named session to the same facade while the set is stable
package loadbalance

import (
	"strings"

	"sl4a-rpc/registry"

	"github.com/nuclio/errors"
)

// ErrNoInstances is returned when there is nothing to pick from
var ErrNoInstances = errors.New("No instances available")

// Balancer selects one instance from the available list. Implementations are
// goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name
	Name() string
}

// New returns the balancer called name. key is the affinity key of the consistent hash
// strategy and ignored by the others.
func New(name string, key string) (Balancer, error) {
	switch strings.ToLower(name) {
	case "", "roundrobin", "round-robin":
		return &RoundRobinBalancer{}, nil
	case "weightedrandom", "weighted-random", "random":
		return &WeightedRandomBalancer{}, nil
	case "consistenthash", "consistent-hash", "hash":
		return NewConsistentHashBalancer(key), nil
	}

	return nil, errors.Errorf("Unknown balancer: %s", name)
}
