package loadbalance

import (
	"math/rand"

	"sl4a-rpc/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to its
// weight. Instances that advertise no weight count as weight 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	totalWeight := 0
	for index := range instances {
		totalWeight += weight(&instances[index])
	}

	r := rand.Intn(totalWeight)
	for index := range instances {
		r -= weight(&instances[index])
		if r < 0 {
			return &instances[index], nil
		}
	}

	return &instances[len(instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}

func weight(instance *registry.ServiceInstance) int {
	if instance.Weight <= 0 {
		return 1
	}

	return instance.Weight
}
