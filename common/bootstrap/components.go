package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/seed-improver/common/cache"
	"github.com/lyzr/seed-improver/common/config"
	"github.com/lyzr/seed-improver/common/db"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/lyzr/seed-improver/common/ratelimit"
	"github.com/lyzr/seed-improver/common/redis"
	"github.com/lyzr/seed-improver/common/telemetry"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB        // nil with the memory store
	Redis     *redis.Client // nil when redis is disabled
	Cache     cache.Cache
	Limiter   ratelimit.Limiter
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// LIFO
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) map[string]string {
	status := map[string]string{"db": "disabled", "redis": "disabled"}

	if c.DB != nil {
		status["db"] = "ok"
		if err := c.DB.Health(ctx); err != nil {
			status["db"] = err.Error()
		}
	}

	if c.Redis != nil {
		status["redis"] = "ok"
		if err := c.Redis.Ping(ctx); err != nil {
			status["redis"] = err.Error()
		}
	}

	return status
}

// Healthy reports whether every enabled dependency answered
func Healthy(status map[string]string) bool {
	for _, v := range status {
		if v != "ok" && v != "disabled" {
			return false
		}
	}
	return true
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
