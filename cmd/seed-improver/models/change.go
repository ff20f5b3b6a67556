package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority ranks a recommendation
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Verdict is the judge's decision on a change
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	VerdictDefer   Verdict = "defer"
)

// ParseVerdict maps a free-form verdict string onto the enum
func ParseVerdict(s string) (Verdict, bool) {
	switch Verdict(s) {
	case VerdictApprove, VerdictReject, VerdictDefer:
		return Verdict(s), true
	}
	return "", false
}

// RiskLevel is used both for a change's static risk category and the judge's risk score
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel maps a free-form risk string onto the enum
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), true
	}
	return "", false
}

// ImplementationOutcome is the terminal result of auto-implementation
type ImplementationOutcome string

const (
	OutcomeImplemented ImplementationOutcome = "implemented"
	OutcomeFailed      ImplementationOutcome = "failed"
	OutcomeSkipped     ImplementationOutcome = "skipped"
)

// Category groups recommendations by what they touch
type Category string

const (
	CategoryTelemetry Category = "telemetry"
	CategoryConfig    Category = "config"
	CategoryRisk      Category = "risk"
	CategoryRegime    Category = "regime"
	CategoryStrategy  Category = "strategy"
)

// AppliedMarker is written into the compatibility annotation when Phase 3 applies a change
const AppliedMarker = "[APPLIED]"

// Change is one recommendation produced by a run.
// Maps to: seed_improver_changes table
type Change struct {
	ID    uuid.UUID `db:"id" json:"id"`
	RunID uuid.UUID `db:"run_id" json:"run_id"`
	Seq   int       `db:"seq" json:"seq"`

	Priority       Priority `db:"priority" json:"priority"`
	Hypothesis     string   `db:"hypothesis" json:"hypothesis"`
	ChangeSummary  string   `db:"change_summary" json:"change_summary"`
	RiskAssessment string   `db:"risk_assessment" json:"risk_assessment"`
	ExpectedImpact string   `db:"expected_impact" json:"expected_impact"`

	Category           Category  `db:"category" json:"category"`
	Pair               string    `db:"pair" json:"pair,omitempty"`
	Strategy           string    `db:"strategy" json:"strategy,omitempty"`
	RiskCategory       RiskLevel `db:"risk_category" json:"risk_category"`
	StrategyAffecting  bool      `db:"strategy_affecting" json:"strategy_affecting"`
	EstimatedImpact    float64   `db:"estimated_impact" json:"estimated_impact"`
	AnalysisConfidence float64   `db:"analysis_confidence" json:"analysis_confidence"`

	// RFC 6902 operations against the tunables document, if the change is directly applicable
	ConfigPatch json.RawMessage `db:"config_patch" json:"config_patch,omitempty"`

	PatternKey string `db:"pattern_key" json:"pattern_key,omitempty"`

	// Free-text annotation. Phase 3 writes AppliedMarker, Phase 6 writes test failure detail.
	CompatibilityCheck string `db:"compatibility_check" json:"compatibility_check"`

	Verdict           *Verdict   `db:"verdict" json:"verdict"`
	VerdictReason     *string    `db:"verdict_reason" json:"verdict_reason"`
	VerdictConfidence *float64   `db:"verdict_confidence" json:"verdict_confidence"`
	RiskScore         *RiskLevel `db:"risk_score" json:"risk_score"`

	ImplementationBranch  *string                `db:"implementation_branch" json:"implementation_branch"`
	ImplementationCommit  *string                `db:"implementation_commit_sha" json:"implementation_commit_sha"`
	ImplementationOutcome *ImplementationOutcome `db:"implementation_outcome" json:"implementation_outcome"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsJudged reports whether a verdict has been recorded
func (c *Change) IsJudged() bool {
	return c.Verdict != nil
}

// Approved reports whether the change carries an approve verdict
func (c *Change) Approved() bool {
	return c.Verdict != nil && *c.Verdict == VerdictApprove
}

// Judgement is the verdict payload written once per change
type Judgement struct {
	Verdict    Verdict
	Reason     string
	Confidence float64
	RiskScore  RiskLevel
}

// Implementation is the Phase 6 payload written once per approved change
type Implementation struct {
	Outcome ImplementationOutcome
	Branch  string
	Commit  string
	Detail  string // appended to the compatibility annotation when non-empty
}
