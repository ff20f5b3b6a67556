package bootstrap

import (
	"context"
	"testing"

	"github.com/lyzr/seed-improver/common/cache"
	"github.com/lyzr/seed-improver/common/config"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/lyzr/seed-improver/common/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupMemoryStore(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.StoreType = "memory"
	cfg.Cache.Enabled = true

	ctx := context.Background()
	c, err := Setup(ctx, "seed-improver", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()))
	require.NoError(t, err)

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)
	assert.IsType(t, &cache.MemoryCache{}, c.Cache)
	assert.IsType(t, &ratelimit.MemoryLimiter{}, c.Limiter)
	assert.NotNil(t, c.Telemetry)

	status := c.Health(ctx)
	assert.Equal(t, map[string]string{"db": "disabled", "redis": "disabled"}, status)
	assert.True(t, Healthy(status))

	require.NoError(t, c.Shutdown(ctx))
}

func TestHealthy(t *testing.T) {
	assert.False(t, Healthy(map[string]string{"db": "ok", "redis": "dial tcp: refused"}))
}
