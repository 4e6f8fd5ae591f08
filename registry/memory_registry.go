package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps instances in process. TTLs are ignored.
type MemoryRegistry struct {
	lock     sync.Mutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: map[string]map[string]ServiceInstance{},
		watchers: map[string][]chan []ServiceInstance{},
	}
}

// NewStaticRegistry advertises fixed addresses under serviceName
func NewStaticRegistry(serviceName string, addrs ...string) *MemoryRegistry {
	memoryRegistry := NewMemoryRegistry()
	for _, addr := range addrs {
		memoryRegistry.Register(context.Background(), serviceName, ServiceInstance{Addr: addr}, 0) // nolint: errcheck
	}

	return memoryRegistry
}

func (r *MemoryRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	instances, found := r.services[serviceName]
	if !found {
		instances = map[string]ServiceInstance{}
		r.services[serviceName] = instances
	}

	instances[instance.Addr] = instance
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.services[serviceName], addr)
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.list(serviceName), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	instancesChan := make(chan []ServiceInstance, 1)

	r.lock.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], instancesChan)
	r.lock.Unlock()

	go func() {
		<-ctx.Done()

		r.lock.Lock()
		defer r.lock.Unlock()

		watchers := r.watchers[serviceName]
		for index, watcher := range watchers {
			if watcher == instancesChan {
				r.watchers[serviceName] = append(watchers[:index], watchers[index+1:]...)
				break
			}
		}
		close(instancesChan)
	}()

	return instancesChan
}

func (r *MemoryRegistry) Close() error {
	return nil
}

// must be called with the lock held
func (r *MemoryRegistry) list(serviceName string) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(r.services[serviceName]))
	for _, instance := range r.services[serviceName] {
		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Addr < instances[j].Addr
	})

	return instances
}

// must be called with the lock held. A slow watcher only ever sees the latest list.
func (r *MemoryRegistry) notify(serviceName string) {
	for _, watcher := range r.watchers[serviceName] {
		select {
		case <-watcher:
		default:
		}

		watcher <- r.list(serviceName)
	}
}
