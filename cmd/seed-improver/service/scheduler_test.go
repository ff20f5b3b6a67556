package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingRunner) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	r.calls.Add(1)
	r.entered <- struct{}{}
	<-r.release
	return &RunResult{Run: &models.Run{RunID: uuid.New(), TriggerType: req.Trigger, Status: models.RunCompleted}}, nil
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	runner := &blockingRunner{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(runner, "@every 1h", logger.Discard())

	done := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(done)
	}()
	<-runner.entered

	s.tick(context.Background())
	assert.Equal(t, int32(1), runner.calls.Load())

	close(runner.release)
	<-done
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(&blockingRunner{}, "every tuesday", logger.Discard())
	assert.Error(t, s.Start(context.Background()))
}

func TestSchedulerStopsWithContext(t *testing.T) {
	s := NewScheduler(&blockingRunner{}, "@every 1h", logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestMemoryDedup(t *testing.T) {
	d := NewMemoryDedup(time.Hour)
	now := time.Now()
	d.now = func() time.Time { return now }

	ok, err := d.Claim(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Hour)
	ok, err = d.Claim(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryDedupRelease(t *testing.T) {
	d := NewMemoryDedup(time.Hour)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "trade-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, d.Release(ctx, "trade-1"))
	ok, err = d.Claim(ctx, "trade-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// releasing an unknown key is a no-op
	require.NoError(t, d.Release(ctx, "trade-2"))
}
