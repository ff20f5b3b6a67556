package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/robfig/cron/v3"
)

// Scheduler fires scheduled runs on a cron expression. A tick that arrives
// while the previous scheduled run is still going is dropped.
type Scheduler struct {
	runner  Runner
	spec    string
	log     *logger.Logger
	running atomic.Bool
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, spec string, log *logger.Logger) *Scheduler {
	return &Scheduler{runner: runner, spec: spec, log: log}
}

// Start blocks until ctx is done. An empty spec disables scheduling.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.spec == "" {
		s.log.Info("scheduled runs disabled")
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.spec, err)
	}

	s.log.Info("scheduler started", "schedule", s.spec)
	c.Start()
	<-ctx.Done()

	// wait for an in-flight tick to return
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("previous scheduled run still in progress, skipping tick")
		return
	}
	defer s.running.Store(false)

	res, err := s.runner.Execute(ctx, RunRequest{Trigger: models.TriggerScheduled})
	if err != nil {
		s.log.Error("scheduled run failed to start", "error", err)
		return
	}
	s.log.Info("scheduled run finished", "run_id", res.Run.RunID, "status", res.Run.Status)
}
