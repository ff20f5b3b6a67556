package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	rediscommon "github.com/lyzr/seed-improver/common/redis"
)

// LossDedupTTL is how long a loss event id is remembered
const LossDedupTTL = 24 * time.Hour

// Dedup admits each key once within its ttl
type Dedup interface {
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets a claim whose work never started
	Release(ctx context.Context, key string) error
}

func lossDedupKey(key string) string {
	return "seed_improver:loss:" + key
}

// RedisDedup claims keys with SET NX
type RedisDedup struct {
	redis *rediscommon.Client
	ttl   time.Duration
}

// NewRedisDedup creates a new redis-backed dedup
func NewRedisDedup(client *rediscommon.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{redis: client, ttl: ttl}
}

// Claim returns true the first time key is seen
func (d *RedisDedup) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.redis.SetNX(ctx, lossDedupKey(key), "1", d.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to claim loss event: %w", err)
	}
	return ok, nil
}

// Release deletes the claim on key
func (d *RedisDedup) Release(ctx context.Context, key string) error {
	if err := d.redis.Delete(ctx, lossDedupKey(key)); err != nil {
		return fmt.Errorf("failed to release loss event: %w", err)
	}
	return nil
}

// MemoryDedup is the single-process fallback
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryDedup creates a new in-memory dedup
func NewMemoryDedup(ttl time.Duration) *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Claim returns true the first time key is seen within ttl
func (d *MemoryDedup) Claim(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

// Release forgets key
func (d *MemoryDedup) Release(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
