package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType records what started a run
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerLoss      TriggerType = "loss"
)

// Valid reports whether t is a known trigger
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerLoss:
		return true
	}
	return false
}

// RunStatus represents the status of a pipeline run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status can no longer change
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunCounters aggregates phase outputs for a run
type RunCounters struct {
	TradesSampled   int     `json:"trades_sampled"`
	Gaps            int     `json:"gaps"`
	Completeness    float64 `json:"completeness"`
	WinRate         float64 `json:"win_rate"`
	NetPnL          float64 `json:"net_pnl"`
	Recommendations int     `json:"recommendations"`
	PatternUpdates  int     `json:"pattern_updates"`
	AutoApplied     int     `json:"auto_applied"`

	VerdictApprove int `json:"verdict_approve"`
	VerdictReject  int `json:"verdict_reject"`
	VerdictDefer   int `json:"verdict_defer"`

	Implemented int `json:"implemented"`
	ImplFailed  int `json:"impl_failed"`
	ImplSkipped int `json:"impl_skipped"`
}

// Run is one invocation of the improvement pipeline.
// Maps to: seed_improver_runs table
type Run struct {
	RunID       uuid.UUID   `db:"run_id" json:"run_id"`
	TriggerType TriggerType `db:"trigger_type" json:"trigger_type"`

	// Optional pair filter supplied by the trigger
	Pair string `db:"pair" json:"pair,omitempty"`

	Status     RunStatus  `db:"status" json:"status"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at"`

	Summary string `db:"summary" json:"summary"`
	Error   string `db:"error" json:"error,omitempty"`

	Counters RunCounters `db:"counters" json:"counters"`
}

// ShortID is the first eight hex characters of the run id, used in branch names
func (r *Run) ShortID() string {
	return r.RunID.String()[:8]
}
