package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/logger"
	rediscommon "github.com/lyzr/seed-improver/common/redis"
)

// RunEventsChannel is the pub/sub channel terminal runs are announced on
const RunEventsChannel = "seed_improver:runs"

// RunEvents announces terminal runs
type RunEvents interface {
	Publish(ctx context.Context, run *models.Run) error
}

// RunEvent is the published payload
type RunEvent struct {
	RunID       string             `json:"run_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
	Status      models.RunStatus   `json:"status"`
	Summary     string             `json:"summary"`
	Counters    models.RunCounters `json:"counters"`
}

// RedisRunEvents publishes run events through redis pub/sub
type RedisRunEvents struct {
	redis *rediscommon.Client
}

// NewRedisRunEvents creates a new publisher
func NewRedisRunEvents(client *rediscommon.Client) *RedisRunEvents {
	return &RedisRunEvents{redis: client}
}

// Publish sends the run on RunEventsChannel
func (e *RedisRunEvents) Publish(ctx context.Context, run *models.Run) error {
	data, err := encodeRunEvent(run)
	if err != nil {
		return err
	}
	return e.redis.PublishEvent(ctx, RunEventsChannel, string(data))
}

func encodeRunEvent(run *models.Run) ([]byte, error) {
	data, err := json.Marshal(RunEvent{
		RunID:       run.RunID.String(),
		TriggerType: run.TriggerType,
		Status:      run.Status,
		Summary:     run.Summary,
		Counters:    run.Counters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run event: %w", err)
	}
	return data, nil
}

// RelayRunEvents forwards RunEventsChannel into hub until ctx is cancelled,
// so every replica's stream sees runs finished anywhere.
func RelayRunEvents(ctx context.Context, client *rediscommon.Client, hub *EventHub, log *logger.Logger) error {
	pubsub := client.GetUnderlying().Subscribe(ctx, RunEventsChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", RunEventsChannel, err)
	}
	log.Info("run event relay subscribed", "channel", RunEventsChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			hub.Broadcast([]byte(msg.Payload))
		}
	}
}
