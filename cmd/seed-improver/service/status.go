package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/cmd/seed-improver/repository"
	"github.com/lyzr/seed-improver/common/cache"
	"github.com/lyzr/seed-improver/common/logger"
)

const topRecommendations = 5

// RecommendationInfo is one entry of top_recommendations
type RecommendationInfo struct {
	ID              string          `json:"id"`
	Priority        models.Priority `json:"priority"`
	Category        models.Category `json:"category"`
	ChangeSummary   string          `json:"change_summary"`
	Hypothesis      string          `json:"hypothesis"`
	ExpectedImpact  string          `json:"expected_impact"`
	EstimatedImpact float64         `json:"estimated_impact"`
}

// VerdictsSummary counts verdicts of a run
type VerdictsSummary struct {
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
	Defer   int `json:"defer"`
}

// ImplementationsSummary counts Phase 6 outcomes of a run
type ImplementationsSummary struct {
	Implemented int `json:"implemented"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
}

// RunResponse is returned by the run and loss triggers
type RunResponse struct {
	Status                 models.RunStatus       `json:"status"`
	RunID                  string                 `json:"run_id"`
	TriggerType            models.TriggerType     `json:"trigger_type"`
	Summary                string                 `json:"summary"`
	RecommendationsCount   int                    `json:"recommendations_count"`
	TopRecommendations     []RecommendationInfo   `json:"top_recommendations"`
	PatternUpdatesCount    int                    `json:"pattern_updates_count"`
	VerdictsSummary        VerdictsSummary        `json:"verdicts_summary"`
	ImplementationsSummary ImplementationsSummary `json:"implementations_summary"`
}

// Response renders a run result for the trigger endpoints
func (r *RunResult) Response() *RunResponse {
	c := r.Run.Counters
	resp := &RunResponse{
		Status:               r.Run.Status,
		RunID:                r.Run.RunID.String(),
		TriggerType:          r.Run.TriggerType,
		Summary:              r.Run.Summary,
		RecommendationsCount: c.Recommendations,
		TopRecommendations:   make([]RecommendationInfo, 0, topRecommendations),
		PatternUpdatesCount:  c.PatternUpdates,
		VerdictsSummary: VerdictsSummary{
			Approve: c.VerdictApprove,
			Reject:  c.VerdictReject,
			Defer:   c.VerdictDefer,
		},
		ImplementationsSummary: ImplementationsSummary{
			Implemented: c.Implemented,
			Failed:      c.ImplFailed,
			Skipped:     c.ImplSkipped,
		},
	}
	for i, ch := range r.Changes {
		if i == topRecommendations {
			break
		}
		resp.TopRecommendations = append(resp.TopRecommendations, RecommendationInfo{
			ID:              ch.ID.String(),
			Priority:        ch.Priority,
			Category:        ch.Category,
			ChangeSummary:   ch.ChangeSummary,
			Hypothesis:      ch.Hypothesis,
			ExpectedImpact:  ch.ExpectedImpact,
			EstimatedImpact: ch.EstimatedImpact,
		})
	}
	return resp
}

// ChangeStatus is one change in a status response
type ChangeStatus struct {
	ChangeSummary             string                        `json:"change_summary"`
	Priority                  models.Priority               `json:"priority"`
	Verdict                   *models.Verdict               `json:"verdict"`
	VerdictReason             *string                       `json:"verdict_reason"`
	VerdictConfidence         *float64                      `json:"verdict_confidence"`
	ImplementationOutcome     *models.ImplementationOutcome `json:"implementation_outcome"`
	ImplementationBranch      *string                       `json:"implementation_branch"`
	ImplementationCommitSHA   *string                       `json:"implementation_commit_sha"`
	ImplementationCheckResult string                        `json:"implementation_check_result"`
}

// StatusResponse is the durable state of a run
type StatusResponse struct {
	RunID       string             `json:"run_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
	Status      models.RunStatus   `json:"status"`
	Summary     string             `json:"summary"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  *time.Time         `json:"finished_at"`
	Changes     []ChangeStatus     `json:"changes"`
}

// StatusService reads run status. Terminal runs never change, so their
// rendered JSON is cached.
type StatusService struct {
	runs     RunStore
	changes  ChangeStore
	patterns PatternStore
	cache    cache.Cache
	ttl      time.Duration
	log      *logger.Logger
}

// StatusServiceOpts contains options for creating a StatusService
type StatusServiceOpts struct {
	Stores Stores
	Cache  cache.Cache // optional
	TTL    time.Duration
	Logger *logger.Logger
}

// NewStatusService creates a new status service
func NewStatusService(opts *StatusServiceOpts) *StatusService {
	return &StatusService{
		runs:     opts.Stores.Runs,
		changes:  opts.Stores.Changes,
		patterns: opts.Stores.Patterns,
		cache:    opts.Cache,
		ttl:      opts.TTL,
		log:      opts.Logger,
	}
}

func statusCacheKey(runID uuid.UUID) string {
	return "status:" + runID.String()
}

// StatusJSON returns the status document of a run
func (s *StatusService) StatusJSON(ctx context.Context, runID uuid.UUID) ([]byte, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, statusCacheKey(runID)); err != nil {
			s.log.Warn("status cache read failed", "run_id", runID, "error", err)
		} else if ok {
			return data, nil
		}
	}

	status, err := s.Status(ctx, runID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}

	if s.cache != nil && status.Status.Terminal() {
		if err := s.cache.Set(ctx, statusCacheKey(runID), data, s.ttl); err != nil {
			s.log.Warn("status cache write failed", "run_id", runID, "error", err)
		}
	}
	return data, nil
}

// Status loads a run and its changes in rank order
func (s *StatusService) Status(ctx context.Context, runID uuid.UUID) (*StatusResponse, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	changes, err := s.changes.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	resp := &StatusResponse{
		RunID:       run.RunID.String(),
		TriggerType: run.TriggerType,
		Status:      run.Status,
		Summary:     run.Summary,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Changes:     make([]ChangeStatus, 0, len(changes)),
	}
	for _, c := range changes {
		resp.Changes = append(resp.Changes, ChangeStatus{
			ChangeSummary:             c.ChangeSummary,
			Priority:                  c.Priority,
			Verdict:                   c.Verdict,
			VerdictReason:             c.VerdictReason,
			VerdictConfidence:         c.VerdictConfidence,
			ImplementationOutcome:     c.ImplementationOutcome,
			ImplementationBranch:      c.ImplementationBranch,
			ImplementationCommitSHA:   c.ImplementationCommit,
			ImplementationCheckResult: c.CompatibilityCheck,
		})
	}
	return resp, nil
}

// ListRuns returns recent runs, newest first
func (s *StatusService) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	return s.runs.List(ctx, repository.RunFilter{Limit: limit})
}

// ListPatterns returns the most frequently seen patterns
func (s *StatusService) ListPatterns(ctx context.Context, limit int) ([]*models.Pattern, error) {
	return s.patterns.ListTop(ctx, limit)
}
