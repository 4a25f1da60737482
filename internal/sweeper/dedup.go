package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup claims stable per-condition keys so repeated sweeps never notify
// twice for the same occurrence. Claim returns true when this caller won
// the key. Release gives a won key back when the side effect behind it
// failed, so the next sweep retries instead of losing the notification.
type Dedup interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisDedup claims keys with SET NX so deduplication holds across
// processes.
type RedisDedup struct {
	client redis.Cmdable
}

func NewRedisDedup(client redis.Cmdable) *RedisDedup {
	return &RedisDedup{client: client}
}

func (d *RedisDedup) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, key, 1, ttl).Result()
}

func (d *RedisDedup) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, key).Err()
}

// MemoryDedup is the single-process fallback, also used by tests.
type MemoryDedup struct {
	mu      sync.Mutex
	claimed map[string]time.Time
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{claimed: make(map[string]time.Time)}
}

func (d *MemoryDedup) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if expiry, ok := d.claimed[key]; ok && now.Before(expiry) {
		return false, nil
	}
	d.claimed[key] = now.Add(ttl)
	return true, nil
}

func (d *MemoryDedup) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, key)
	return nil
}
