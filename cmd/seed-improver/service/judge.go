package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/cmd/seed-improver/repository"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/lyzr/seed-improver/common/reasoning"
)

// JudgeResult tallies Phase 5 outcomes
type JudgeResult struct {
	Skipped bool
	Approve int
	Reject  int
	Defer   int
	Failed  int
}

// Judge asks the reasoning service for a verdict on every unjudged change
type Judge struct {
	svc          reasoning.Service
	changes      ChangeStore
	highRiskAuto bool
	log          *logger.Logger
}

// NewJudge creates a judge. A nil service disables Phase 5.
func NewJudge(svc reasoning.Service, changes ChangeStore, highRiskAutoApproval bool, log *logger.Logger) *Judge {
	return &Judge{svc: svc, changes: changes, highRiskAuto: highRiskAutoApproval, log: log}
}

// Enabled reports whether a reasoning service is configured
func (j *Judge) Enabled() bool {
	return j.svc != nil
}

// Judge records at most one verdict per change. Service failures leave the
// change unjudged and are only counted.
func (j *Judge) Judge(ctx context.Context, changes []*models.Change, seen map[uuid.UUID]int64) (*JudgeResult, error) {
	if !j.Enabled() {
		return &JudgeResult{Skipped: true}, nil
	}

	res := &JudgeResult{}
	for _, c := range changes {
		if c.IsJudged() {
			continue
		}

		judgement, err := j.classify(ctx, c, seen[c.ID])
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("judging interrupted: %w", ctx.Err())
			}
			j.log.Warn("reasoning service failed, change left unjudged", "change_id", c.ID, "error", err)
			res.Failed++
			continue
		}

		if err := j.changes.SetVerdict(ctx, c.ID, *judgement); err != nil {
			if errors.Is(err, repository.ErrAlreadyJudged) {
				continue
			}
			return nil, fmt.Errorf("failed to record verdict for %s: %w", c.ID, err)
		}
		applyJudgement(c, *judgement)

		switch judgement.Verdict {
		case models.VerdictApprove:
			res.Approve++
		case models.VerdictReject:
			res.Reject++
		case models.VerdictDefer:
			res.Defer++
		}
	}
	return res, nil
}

func (j *Judge) classify(ctx context.Context, c *models.Change, seenCount int64) (*models.Judgement, error) {
	out, err := j.svc.Classify(ctx, changeContext(c, seenCount))
	if err != nil {
		return nil, err
	}

	verdict, ok := models.ParseVerdict(out.Verdict)
	if !ok {
		return nil, fmt.Errorf("%w: verdict %q", reasoning.ErrMalformedResponse, out.Verdict)
	}
	risk, ok := models.ParseRiskLevel(out.RiskScore)
	if !ok {
		return nil, fmt.Errorf("%w: risk score %q", reasoning.ErrMalformedResponse, out.RiskScore)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v", reasoning.ErrMalformedResponse, out.Confidence)
	}

	judgement := &models.Judgement{
		Verdict:    verdict,
		Reason:     out.Reason,
		Confidence: out.Confidence,
		RiskScore:  risk,
	}

	if risk == models.RiskHigh && !j.highRiskAuto && verdict != models.VerdictDefer {
		judgement.Verdict = models.VerdictDefer
		judgement.Reason = fmt.Sprintf("auto-deferred: high risk requires manual approval (model verdict: %s; %s)", verdict, out.Reason)
	}
	return judgement, nil
}

func applyJudgement(c *models.Change, j models.Judgement) {
	verdict, reason, confidence, risk := j.Verdict, j.Reason, j.Confidence, j.RiskScore
	c.Verdict = &verdict
	c.VerdictReason = &reason
	c.VerdictConfidence = &confidence
	c.RiskScore = &risk
}

func changeContext(c *models.Change, seenCount int64) reasoning.ChangeContext {
	return reasoning.ChangeContext{
		ID:                 c.ID.String(),
		Priority:           string(c.Priority),
		Category:           string(c.Category),
		Pair:               c.Pair,
		Strategy:           c.Strategy,
		Hypothesis:         c.Hypothesis,
		ChangeSummary:      c.ChangeSummary,
		RiskAssessment:     c.RiskAssessment,
		ExpectedImpact:     c.ExpectedImpact,
		RiskCategory:       string(c.RiskCategory),
		StrategyAffecting:  c.StrategyAffecting,
		EstimatedImpact:    c.EstimatedImpact,
		AnalysisConfidence: c.AnalysisConfidence,
		PatternSeenCount:   seenCount,
		ConfigPatch:        string(c.ConfigPatch),
	}
}
