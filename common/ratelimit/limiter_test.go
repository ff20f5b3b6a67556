package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }

	cfg := TriggerConfig{Limit: 2, WindowSeconds: 60}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, PairKey("BTC-USD"), cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := l.Check(ctx, PairKey("BTC-USD"), cfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(3), res.CurrentCount)
	assert.Equal(t, int64(60), res.RetryAfterSeconds)

	res, err = l.Check(ctx, PairKey("ETH-USD"), cfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "pairs are counted independently")

	now = now.Add(61 * time.Second)
	res, err = l.Check(ctx, PairKey("BTC-USD"), cfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.CurrentCount)
}

func TestLossTriggerOverride(t *testing.T) {
	assert.Equal(t, int64(10), LossTrigger(0).Limit)
	assert.Equal(t, int64(3), LossTrigger(3).Limit)
	assert.Equal(t, DefaultLossTrigger.WindowSeconds, LossTrigger(3).WindowSeconds)
}
