package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishesFinishedRuns(t *testing.T) {
	hub := NewEventHub(logger.Discard())
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	h := newHarness(t, harnessOpts{events: hub}, feeDrag()...)
	res, err := h.svc.Execute(context.Background(), RunRequest{Trigger: models.TriggerManual})
	require.NoError(t, err)

	require.Len(t, sub.C, 1)
	var ev RunEvent
	require.NoError(t, json.Unmarshal(<-sub.C, &ev))
	assert.Equal(t, res.Run.RunID.String(), ev.RunID)
	assert.Equal(t, models.RunCompleted, ev.Status)
	assert.Equal(t, 1, ev.Counters.Recommendations)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewEventHub(logger.Discard())
	slow := hub.Subscribe()
	fast := hub.Subscribe()

	for i := 0; i < subscriberBuffer; i++ {
		hub.Broadcast([]byte("x"))
		<-fast.C
	}
	assert.Equal(t, 2, hub.Count())

	hub.Broadcast([]byte("overflow"))
	assert.Equal(t, 1, hub.Count())
	assert.Equal(t, []byte("overflow"), <-fast.C)

	drained := 0
	for range slow.C {
		drained++
	}
	assert.Equal(t, subscriberBuffer, drained)

	// idempotent after a drop
	hub.Unsubscribe(slow)
	hub.Unsubscribe(fast)
	assert.Zero(t, hub.Count())
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewEventHub(logger.Discard())
	sub := hub.Subscribe()
	hub.Close()

	_, open := <-sub.C
	assert.False(t, open)

	late := hub.Subscribe()
	_, open = <-late.C
	assert.False(t, open)
	assert.Zero(t, hub.Count())
}
