package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers which (order, status) deliveries have been fully processed.
// Providers deliver at least once; the handler marks a delivery only after
// the lifecycle accepted it, so a transient failure leaves the retry free to
// run.
type Dedup interface {
	Seen(ctx context.Context, orderID string, status Status) (bool, error)
	Mark(ctx context.Context, orderID string, status Status) error
}

func dedupKey(orderID string, status Status) string {
	return fmt.Sprintf("dedup:payment:%s:%s", orderID, status)
}

type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]time.Time), ttl: ttl}
}

func (d *MemoryDedup) Seen(_ context.Context, orderID string, status Status) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}

	_, ok := d.seen[dedupKey(orderID, status)]
	return ok, nil
}

func (d *MemoryDedup) Mark(_ context.Context, orderID string, status Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[dedupKey(orderID, status)] = time.Now().Add(d.ttl)
	return nil
}

// RedisDedup shares the seen-set across instances.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) Seen(ctx context.Context, orderID string, status Status) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKey(orderID, status)).Result()
	if err != nil {
		return false, fmt.Errorf("payment: dedup check failed: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDedup) Mark(ctx context.Context, orderID string, status Status) error {
	if err := d.client.Set(ctx, dedupKey(orderID, status), "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("payment: dedup mark failed: %w", err)
	}
	return nil
}
