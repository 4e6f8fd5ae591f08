package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"sl4a-rpc/registry"
)

const virtualNodes = 100

// ConsistentHashBalancer maps its key to an instance on a hash ring, so the same
// session name lands on the same facade until the instance set changes. Each instance
// owns 100 virtual nodes hashed from "{addr}#{i}" to keep the ring balanced.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key      string
	replicas int

	lock      sync.Mutex
	signature string   // Addresses the ring was built from
	ring      []uint32 // Sorted hash values on the ring
	nodes     map[uint32]string
}

func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		key:      key,
		replicas: virtualNodes,
		nodes:    map[uint32]string{},
	}
}

// Pick picks the instance owning the balancer's key
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	return b.PickKey(instances, b.key)
}

// PickKey picks the instance owning key, rebuilding the ring when the instance set
// differs from the previous call
func (b *ConsistentHashBalancer) PickKey(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.lock.Lock()
	b.build(instances)
	addr := b.lookup(key)
	b.lock.Unlock()

	for index := range instances {
		if instances[index].Addr == addr {
			return &instances[index], nil
		}
	}

	return nil, ErrNoInstances
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

// must be called with the lock held
func (b *ConsistentHashBalancer) build(instances []registry.ServiceInstance) {
	addrs := make([]string, 0, len(instances))
	for _, instance := range instances {
		addrs = append(addrs, instance.Addr)
	}
	sort.Strings(addrs)

	signature := strings.Join(addrs, ",")
	if signature == b.signature {
		return
	}

	b.signature = signature
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]string, len(addrs)*b.replicas)

	for _, addr := range addrs {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", addr, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = addr
		}
	}

	// sorted for the binary search in lookup
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// must be called with the lock held
func (b *ConsistentHashBalancer) lookup(key string) string {
	hash := crc32.ChecksumIEEE([]byte(key))

	// first node clockwise from the key, wrapping around past the largest
	index := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if index == len(b.ring) {
		index = 0
	}

	return b.nodes[b.ring[index]]
}
