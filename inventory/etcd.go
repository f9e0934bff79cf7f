package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/sros-rpc/routers/"

type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Logger      *zap.Logger
}

// EtcdInventory stores routers in etcd so several tools (and simulators) can
// share one view of the lab:
//
//	Key:   /sros-rpc/routers/{Name}
//	Value: JSON-encoded Router
//
// Registration uses TTL leases: when the registering process dies the lease
// expires and the entry is removed.
type EtcdInventory struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

// NewEtcdInventory connects to the given etcd endpoints.
func NewEtcdInventory(cfg EtcdConfig) (*EtcdInventory, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdInventory{
		client: c,
		logger: logger,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

// Register stores router under a lease of ttl seconds and keeps the lease
// alive until Deregister or Close.
func (r *EtcdInventory) Register(ctx context.Context, router Router, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(router)
	if err != nil {
		return err
	}

	if _, err := r.client.Put(ctx, keyPrefix+router.Name, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// The keep-alive must outlive the caller's request context.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	// Drain responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	r.leases[router.Name] = lease.ID
	r.mu.Unlock()

	r.logger.Info("router registered",
		zap.String("router", router.Name),
		zap.String("addr", router.Addr),
		zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes the router and revokes its lease.
func (r *EtcdInventory) Deregister(ctx context.Context, name string) error {
	if _, err := r.client.Delete(ctx, keyPrefix+name); err != nil {
		return err
	}

	r.mu.Lock()
	id, ok := r.leases[name]
	delete(r.leases, name)
	r.mu.Unlock()

	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *EtcdInventory) Lookup(ctx context.Context, name string) (Router, error) {
	resp, err := r.client.Get(ctx, keyPrefix+name)
	if err != nil {
		return Router{}, err
	}
	if len(resp.Kvs) == 0 {
		return Router{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var router Router
	if err := json.Unmarshal(resp.Kvs[0].Value, &router); err != nil {
		return Router{}, fmt.Errorf("decode router %s: %w", name, err)
	}
	return router, nil
}

// List returns every registered router.
func (r *EtcdInventory) List(ctx context.Context) ([]Router, error) {
	resp, err := r.client.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	routers := make([]Router, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var router Router
		if err := json.Unmarshal(kv.Value, &router); err != nil {
			r.logger.Warn("skipping malformed router entry", zap.ByteString("key", kv.Key))
			continue
		}
		routers = append(routers, router)
	}
	return routers, nil
}

// Watch emits the full router list whenever anything under the prefix
// changes. The channel is closed when ctx is done.
func (r *EtcdInventory) Watch(ctx context.Context) <-chan []Router {
	ch := make(chan []Router, 1)

	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, keyPrefix, clientv3.WithPrefix()) {
			// Re-fetching is simpler than applying individual events.
			routers, err := r.List(ctx)
			if err != nil {
				r.logger.Warn("list routers after watch event", zap.Error(err))
				continue
			}
			select {
			case ch <- routers:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

func (r *EtcdInventory) Close() error {
	return r.client.Close()
}
