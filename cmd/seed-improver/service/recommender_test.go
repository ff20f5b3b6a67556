package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEmptyWindow(t *testing.T) {
	res := NewAuditor(24 * time.Hour).Audit(nil)
	assert.Equal(t, 0, res.TradesSampled)
	assert.Equal(t, 0, res.Gaps)
	assert.Zero(t, res.Completeness)
}

func TestAuditCountsNullFieldsAndTimeGaps(t *testing.T) {
	trades := []*models.Trade{
		trade("a", "BTC/USDT", "momentum", "trend", -1, 0, "stop_loss", 1),
		trade("b", "BTC/USDT", "momentum", "trend", 2, 0, "take_profit", 2),
		trade("c", "BTC/USDT", "momentum", "trend", 3, 0, "take_profit", 60),
	}
	trades[1].Regime = nil

	res := NewAuditor(24 * time.Hour).Audit(trades)
	assert.Equal(t, 3, res.TradesSampled)
	assert.Equal(t, 1, res.MissingFields["regime"])
	assert.Equal(t, 1, res.TimeGaps)
	assert.Equal(t, 2, res.Gaps)
	assert.InDelta(t, 20.0/21.0, res.Completeness, 1e-9)
}

func TestRecommendEmptyInput(t *testing.T) {
	r := NewRecommender(3)
	assert.Empty(t, r.Recommend(uuid.New(), nil, AuditResult{}))
}

func TestRecommendRanksByImpactKeepingDetectionOrderOnTies(t *testing.T) {
	trades := append(losingMomentum(), feeDrag()...)
	audit := NewAuditor(24 * time.Hour).Audit(trades)
	runID := uuid.New()

	changes := NewRecommender(3).Recommend(runID, trades, audit)
	require.Len(t, changes, 3)

	// strategy and risk tie at 36; strategy was detected first
	assert.Equal(t, models.CategoryStrategy, changes[0].Category)
	assert.Equal(t, models.CategoryRisk, changes[1].Category)
	assert.Equal(t, models.CategoryConfig, changes[2].Category)

	for i, c := range changes {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, runID, c.RunID)
		assert.NotEmpty(t, c.Hypothesis)
		assert.NotEmpty(t, c.ChangeSummary)
		assert.NotEmpty(t, c.RiskAssessment)
		assert.NotEmpty(t, c.ExpectedImpact)
	}

	assert.Equal(t, 36.0, changes[0].EstimatedImpact)
	assert.Equal(t, models.PriorityCritical, changes[0].Priority)
	assert.True(t, changes[0].StrategyAffecting)
	assert.Equal(t, models.RiskHigh, changes[0].RiskCategory)

	assert.Equal(t, 6.0, changes[2].EstimatedImpact)
	assert.Equal(t, models.PriorityMedium, changes[2].Priority)
	assert.Equal(t, models.RiskLow, changes[2].RiskCategory)
}

func TestRecommendPatchesEscapePointerTokens(t *testing.T) {
	changes := NewRecommender(3).Recommend(uuid.New(), feeDrag(), AuditResult{Completeness: 1})
	require.Len(t, changes, 1)

	var ops []map[string]any
	require.NoError(t, json.Unmarshal(changes[0].ConfigPatch, &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "/execution/pairs/ETH~1USDT/prefer_maker", ops[0]["path"])
	assert.Equal(t, true, ops[0]["value"])
}

func TestRecommendTelemetryChangeOnGaps(t *testing.T) {
	trades := losingMomentum()
	trades[0].Regime = nil
	audit := NewAuditor(24 * time.Hour).Audit(trades)

	changes := NewRecommender(3).Recommend(uuid.New(), trades, audit)

	var telemetry *models.Change
	for _, c := range changes {
		if c.Category == models.CategoryTelemetry {
			telemetry = c
		}
	}
	require.NotNil(t, telemetry)
	assert.Contains(t, telemetry.Hypothesis, "regime=1")
	assert.Less(t, telemetry.AnalysisConfidence, 1.0)
	assert.Contains(t, string(telemetry.ConfigPatch), "/telemetry/required_fields/regime")
}

func TestRecommendRegimeConcentration(t *testing.T) {
	trades := []*models.Trade{
		trade("r1", "SOL/USDT", "breakout", "chop", -5, 0, "signal", 1),
		trade("r2", "SOL/USDT", "breakout", "chop", -7, 0, "signal", 2),
		trade("r3", "SOL/USDT", "breakout", "trend", 9, 0, "take_profit", 3),
		trade("r4", "SOL/USDT", "breakout", "trend", 6, 0, "take_profit", 4),
	}
	changes := NewRecommender(3).Recommend(uuid.New(), trades, AuditResult{Completeness: 1})
	require.Len(t, changes, 1)
	assert.Equal(t, models.CategoryRegime, changes[0].Category)
	assert.Contains(t, string(changes[0].ConfigPatch), "/regime_filters/breakout/chop")
}

func TestRecommendIgnoresSmallGroups(t *testing.T) {
	changes := NewRecommender(3).Recommend(uuid.New(), losingMomentum()[:2], AuditResult{Completeness: 1})
	assert.Empty(t, changes)
}

func TestPointerEscape(t *testing.T) {
	assert.Equal(t, "a~1b~0c", pointerEscape("a/b~c"))
}
