package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the limit resets (0 if allowed)
}

// Limiter checks and counts one request against a keyed window
type Limiter interface {
	Check(ctx context.Context, key string, cfg TriggerConfig) (*RateLimitResult, error)
}

// PairKey is the counter key for loss triggers of a trading pair
func PairKey(pair string) string {
	return fmt.Sprintf("rate_limit:seed_improver:loss:%s", pair)
}

// ManualKey is the counter key for manual triggers
const ManualKey = "rate_limit:seed_improver:manual"

// RateLimiter provides fixed-window rate limiting using Redis + Lua
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewRateLimiter creates a new rate limiter with embedded Lua script
func NewRateLimiter(redisClient *redis.Client, logger Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// Check executes the rate limit Lua script atomically
func (r *RateLimiter) Check(ctx context.Context, key string, cfg TriggerConfig) (*RateLimitResult, error) {
	result, err := r.script.Run(ctx, r.redis, []string{key}, cfg.Limit, cfg.WindowSeconds).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// {allowed, current_count, limit, retry_after}
	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, errors.New("unexpected script result format")
	}

	ints := make([]int64, 4)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element %d: %T", i, v)
		}
		ints[i] = n
	}

	res := &RateLimitResult{
		Allowed:           ints[0] == 1,
		CurrentCount:      ints[1],
		Limit:             ints[2],
		RetryAfterSeconds: ints[3],
	}

	if !res.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", res.CurrentCount,
			"limit", res.Limit,
			"retry_after", res.RetryAfterSeconds)
	} else {
		r.logger.Debug("rate limit check passed",
			"key", key,
			"current", res.CurrentCount,
			"limit", res.Limit)
	}

	return res, nil
}

// MemoryLimiter is the single-process fixed-window limiter used without Redis
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

// Check counts one request and reports whether it fits the window
func (m *MemoryLimiter) Check(ctx context.Context, key string, cfg TriggerConfig) (*RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(time.Duration(cfg.WindowSeconds) * time.Second)}
		m.windows[key] = w
	}
	w.count++

	res := &RateLimitResult{Allowed: w.count <= cfg.Limit, CurrentCount: w.count, Limit: cfg.Limit}
	if !res.Allowed {
		res.RetryAfterSeconds = int64(w.resetAt.Sub(now).Seconds())
		if res.RetryAfterSeconds < 1 {
			res.RetryAfterSeconds = 1
		}
	}
	return res, nil
}
