// Package reasoning abstracts the external reasoning service used to judge
// recommendations and to generate code patches for approved ones.
package reasoning

import (
	"context"
	"errors"
)

var (
	// ErrMalformedResponse is returned when the service answers with something
	// that cannot be decoded into the expected shape
	ErrMalformedResponse = errors.New("malformed reasoning response")

	// ErrEmptyPatch is returned when patch generation yields no usable diff
	ErrEmptyPatch = errors.New("empty or unparseable patch")
)

// ChangeContext is the full context of one recommendation handed to the service
type ChangeContext struct {
	ID                 string  `json:"id"`
	Priority           string  `json:"priority"`
	Category           string  `json:"category"`
	Pair               string  `json:"pair,omitempty"`
	Strategy           string  `json:"strategy,omitempty"`
	Hypothesis         string  `json:"hypothesis"`
	ChangeSummary      string  `json:"change_summary"`
	RiskAssessment     string  `json:"risk_assessment"`
	ExpectedImpact     string  `json:"expected_impact"`
	RiskCategory       string  `json:"risk_category"`
	StrategyAffecting  bool    `json:"strategy_affecting"`
	EstimatedImpact    float64 `json:"estimated_impact"`
	AnalysisConfidence float64 `json:"analysis_confidence"`
	PatternSeenCount   int64   `json:"pattern_seen_count"`
	ConfigPatch        string  `json:"config_patch,omitempty"`
}

// Judgement is a validated verdict returned by Classify
type Judgement struct {
	Verdict    string  `json:"verdict"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	RiskScore  string  `json:"risk_score"`
}

// PatchRequest asks for a unified diff implementing a recommendation
type PatchRequest struct {
	Change ChangeContext
	Files  []string // tracked files of the target repository, for path grounding
}

// Service is the opaque reasoning capability. Implementations must bound
// every call by their configured timeout.
type Service interface {
	Classify(ctx context.Context, change ChangeContext) (*Judgement, error)
	GeneratePatch(ctx context.Context, req PatchRequest) (string, error)
}
