package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"sync"
	"time"

	"github.com/lyzr/seed-improver/common/logger"
)

// Telemetry holds observability components
type Telemetry struct {
	log       *logger.Logger
	pprofAddr string

	mu     sync.Mutex
	phases map[string]*PhaseStats
}

// PhaseStats aggregates timings of one pipeline phase across runs
type PhaseStats struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total_ns"`
	Max   time.Duration `json:"max_ns"`
}

// New creates telemetry components
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
		phases:    make(map[string]*PhaseStats),
	}
}

// StartPprof serves net/http/pprof until ctx is cancelled
func (t *Telemetry) StartPprof(ctx context.Context) error {
	srv := &http.Server{Addr: t.pprofAddr, Handler: http.DefaultServeMux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	t.log.Info("pprof server starting", "addr", t.pprofAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("pprof server: %w", err)
	}
	return nil
}

// RecordDuration records operation duration
func (t *Telemetry) RecordDuration(operation string, start time.Time) {
	if t == nil {
		return
	}
	duration := time.Since(start)

	t.mu.Lock()
	s, ok := t.phases[operation]
	if !ok {
		s = &PhaseStats{}
		t.phases[operation] = s
	}
	s.Count++
	s.Total += duration
	if duration > s.Max {
		s.Max = duration
	}
	t.mu.Unlock()

	t.log.Debug("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

// RecordEvent records a telemetry event
func (t *Telemetry) RecordEvent(event string, attrs map[string]any) {
	if t == nil {
		return
	}
	t.log.Info("telemetry_event",
		"event", event,
		"attrs", attrs,
	)
}

// Snapshot returns a copy of the per-operation timings
func (t *Telemetry) Snapshot() map[string]PhaseStats {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]PhaseStats, len(t.phases))
	for k, v := range t.phases {
		out[k] = *v
	}
	return out
}
