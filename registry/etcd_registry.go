package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix roots every key the registry writes:
//
//	Key:   /sl4a-rpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Entries live under a TTL lease, so a facade that dies without deregistering
// disappears once its lease expires.
const KeyPrefix = "/sl4a-rpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	logger logger.Logger
	client *clientv3.Client

	// keepalives outlive the context passed to Register
	ctx    context.Context
	cancel context.CancelFunc

	lock   sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, so Deregister can revoke
}

// NewEtcdRegistry connects to the given etcd endpoints
func NewEtcdRegistry(parentLogger logger.Logger, endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create etcd client")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EtcdRegistry{
		logger: parentLogger.GetChild("registry"),
		client: client,
		ctx:    ctx,
		cancel: cancel,
		leases: map[string]clientv3.LeaseID{},
	}, nil
}

func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "Failed to grant lease")
	}

	value, err := json.Marshal(instance)
	if err != nil {
		return errors.Wrap(err, "Failed to encode service instance")
	}

	key := instanceKey(serviceName, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return errors.Wrapf(err, "Failed to put %s", key)
	}

	keepAliveChan, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return errors.Wrap(err, "Failed to keep lease alive")
	}

	// drain so the keepalive channel never fills up
	go func() {
		for range keepAliveChan {
		}

		r.logger.DebugWith("Keepalive stopped", "key", key)
	}()

	r.lock.Lock()
	r.leases[key] = lease.ID
	r.lock.Unlock()

	r.logger.DebugWith("Registered", "key", key, "ttl", ttl)
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := instanceKey(serviceName, addr)

	r.lock.Lock()
	leaseID, found := r.leases[key]
	delete(r.leases, key)
	r.lock.Unlock()

	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "Failed to delete %s", key)
	}

	// stops the keepalive as well
	if found {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			r.logger.WarnWith("Failed to revoke lease", "key", key, "err", err.Error())
		}
	}

	r.logger.DebugWith("Deregistered", "key", key)
	return nil
}

func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	response, err := r.client.Get(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to list instances of %s", serviceName)
	}

	instances := make([]ServiceInstance, 0, len(response.Kvs))
	for _, kv := range response.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.WarnWith("Skipping malformed instance", "key", string(kv.Key))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// Watch re-lists the service on every change under its prefix
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	instancesChan := make(chan []ServiceInstance, 1)

	go func() {
		defer close(instancesChan)

		watchChan := r.client.Watch(ctx, servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.logger.WarnWith("Failed to refresh instances", "service", serviceName, "err", err.Error())
				continue
			}

			select {
			case instancesChan <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return instancesChan
}

func (r *EtcdRegistry) Close() error {
	r.lock.Lock()
	leases := r.leases
	r.leases = map[string]clientv3.LeaseID{}
	r.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for key, leaseID := range leases {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			r.logger.WarnWith("Failed to revoke lease", "key", key, "err", err.Error())
		}
	}

	r.cancel()
	return r.client.Close()
}

func servicePrefix(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}

func instanceKey(serviceName string, addr string) string {
	return servicePrefix(serviceName) + addr
}
