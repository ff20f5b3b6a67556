package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
)

const unknownLabel = "unknown"

// Heuristic thresholds
const (
	lowWinRate        = 0.40
	stopLossShare     = 0.60
	regimeLossShare   = 0.70
	feeDragShare      = 0.50
	stopSizeIncrease  = 1.25
	strategySizeScale = 0.5
)

// Recommender derives ranked improvement hypotheses from trade history.
// It is pure: nothing is persisted here.
type Recommender struct {
	minGroupTrades int
	now            func() time.Time
}

// NewRecommender creates a recommender; groups smaller than minGroupTrades are ignored
func NewRecommender(minGroupTrades int) *Recommender {
	if minGroupTrades < 1 {
		minGroupTrades = 1
	}
	return &Recommender{minGroupTrades: minGroupTrades, now: time.Now}
}

type tradeGroup struct {
	pair     string
	strategy string
	trades   []*models.Trade
}

type groupStats struct {
	n          int
	wins       int
	losses     int
	lossAbs    float64
	gross      float64
	fees       float64
	stopLoss   float64
	stopCount  int
	regimeLoss map[string]float64
	regimes    map[string]int
}

func (g *tradeGroup) stats() groupStats {
	s := groupStats{regimeLoss: make(map[string]float64), regimes: make(map[string]int)}
	for _, t := range g.trades {
		if t.PnL == nil {
			continue
		}
		s.n++
		pnl := *t.PnL
		s.gross += pnl + t.Fees
		s.fees += t.Fees

		regime := unknownLabel
		if t.Regime != nil && *t.Regime != "" {
			regime = *t.Regime
		}
		s.regimes[regime]++

		if pnl > 0 {
			s.wins++
			continue
		}
		if pnl < 0 {
			s.losses++
			s.lossAbs += -pnl
			s.regimeLoss[regime] += -pnl
			if strings.Contains(strings.ToLower(t.ExitReason), "stop") {
				s.stopCount++
				s.stopLoss += -pnl
			}
		}
	}
	return s
}

// Recommend produces recommendations ordered by estimated impact, highest first.
// Ties keep detection order. Empty input yields no recommendations.
func (r *Recommender) Recommend(runID uuid.UUID, trades []*models.Trade, audit AuditResult) []*models.Change {
	if len(trades) == 0 {
		return nil
	}

	totalLoss := 0.0
	for _, t := range trades {
		if t.IsLoss() {
			totalLoss += -t.PnLValue()
		}
	}

	var changes []*models.Change
	add := func(c *models.Change) {
		c.ID = uuid.New()
		c.RunID = runID
		c.CreatedAt = r.now()
		c.Priority = priorityFor(c.EstimatedImpact, totalLoss)
		changes = append(changes, c)
	}

	if audit.Gaps > 0 {
		add(telemetryChange(audit, totalLoss))
	}

	for _, g := range groupTrades(trades) {
		if len(g.trades) < r.minGroupTrades {
			continue
		}
		s := g.stats()
		if s.n < r.minGroupTrades {
			continue
		}
		confidence := analysisConfidence(audit.Completeness, s.n, r.minGroupTrades)

		winRate := float64(s.wins) / float64(s.n)
		net := s.gross - s.fees
		if winRate < lowWinRate && net < 0 {
			add(strategyChange(g, s, winRate, confidence))
		}
		if s.stopCount >= 2 && s.lossAbs > 0 && s.stopLoss/s.lossAbs >= stopLossShare {
			add(riskChange(g, s, confidence))
		}
		if regime, share := dominantRegime(s); s.losses >= 2 && len(s.regimes) > 1 && share >= regimeLossShare {
			add(regimeChange(g, s, regime, share, confidence))
		}
		if s.fees > 0 && s.gross > 0 && s.fees >= feeDragShare*s.gross {
			add(feeChange(g, s, confidence))
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].EstimatedImpact > changes[j].EstimatedImpact
	})
	for i, c := range changes {
		c.Seq = i
	}

	return changes
}

// groupTrades buckets trades by (pair, strategy) in a deterministic order
func groupTrades(trades []*models.Trade) []*tradeGroup {
	byKey := make(map[string]*tradeGroup)
	var keys []string
	for _, t := range trades {
		pair, strategy := t.PairOr(unknownLabel), t.StrategyOr(unknownLabel)
		key := pair + "\x00" + strategy
		g, ok := byKey[key]
		if !ok {
			g = &tradeGroup{pair: pair, strategy: strategy}
			byKey[key] = g
			keys = append(keys, key)
		}
		g.trades = append(g.trades, t)
	}
	sort.Strings(keys)

	groups := make([]*tradeGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, byKey[k])
	}
	return groups
}

func dominantRegime(s groupStats) (string, float64) {
	if s.lossAbs == 0 {
		return "", 0
	}
	regimes := make([]string, 0, len(s.regimeLoss))
	for r := range s.regimeLoss {
		regimes = append(regimes, r)
	}
	sort.Strings(regimes)

	best, bestLoss := "", 0.0
	for _, r := range regimes {
		if s.regimeLoss[r] > bestLoss {
			best, bestLoss = r, s.regimeLoss[r]
		}
	}
	return best, bestLoss / s.lossAbs
}

// analysisConfidence scales data completeness by how much evidence the group has
func analysisConfidence(completeness float64, n, minGroup int) float64 {
	support := float64(n) / float64(2*minGroup)
	if support > 1 {
		support = 1
	}
	return round2(completeness * support)
}

func priorityFor(impact, totalLoss float64) models.Priority {
	if totalLoss <= 0 {
		return models.PriorityLow
	}
	share := impact / totalLoss
	switch {
	case share >= 0.5:
		return models.PriorityCritical
	case share >= 0.25:
		return models.PriorityHigh
	case share >= 0.10:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func telemetryChange(audit AuditResult, totalLoss float64) *models.Change {
	fields := make([]string, 0, len(audit.MissingFields))
	for f := range audit.MissingFields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	ops := make([]patchOp, 0, len(fields)+1)
	for _, f := range fields {
		ops = append(ops, patchOp{Op: "add", Path: "/telemetry/required_fields/" + pointerEscape(f), Value: true})
	}
	if audit.TimeGaps > 0 {
		ops = append(ops, patchOp{Op: "add", Path: "/telemetry/heartbeat_alert", Value: true})
	}

	detail := make([]string, 0, len(fields))
	for _, f := range fields {
		detail = append(detail, fmt.Sprintf("%s=%d", f, audit.MissingFields[f]))
	}
	if audit.TimeGaps > 0 {
		detail = append(detail, fmt.Sprintf("time_gaps=%d", audit.TimeGaps))
	}

	return &models.Change{
		Category:           models.CategoryTelemetry,
		RiskCategory:       models.RiskLow,
		EstimatedImpact:    round2((1 - audit.Completeness) * totalLoss),
		AnalysisConfidence: round2(audit.Completeness),
		Hypothesis: fmt.Sprintf("Trade telemetry is %.0f%% complete (%d gaps: %s); losses in the sample cannot be fully attributed.",
			audit.Completeness*100, audit.Gaps, strings.Join(detail, ", ")),
		ChangeSummary:  "Require the missing trade fields at write time and alert on recording gaps.",
		RiskAssessment: "Low: observability only, no effect on order flow.",
		ExpectedImpact: "Complete trade records so later runs can attribute losses with full confidence.",
		ConfigPatch:    mustPatch(ops),
	}
}

func strategyChange(g *tradeGroup, s groupStats, winRate, confidence float64) *models.Change {
	return &models.Change{
		Category:           models.CategoryStrategy,
		Pair:               g.pair,
		Strategy:           g.strategy,
		RiskCategory:       models.RiskHigh,
		StrategyAffecting:  true,
		EstimatedImpact:    round2(s.lossAbs),
		AnalysisConfidence: confidence,
		Hypothesis: fmt.Sprintf("Strategy %s on %s wins only %.0f%% of %d trades and is net negative (%.2f).",
			g.strategy, g.pair, winRate*100, s.n, s.gross-s.fees),
		ChangeSummary:  fmt.Sprintf("Halve position size for %s on %s until entry logic is revised.", g.strategy, g.pair),
		RiskAssessment: "High: changes strategy exposure and may forgo recoveries.",
		ExpectedImpact: fmt.Sprintf("Roughly halves the %.2f loss attributed to this strategy/pair.", s.lossAbs),
		ConfigPatch: mustPatch([]patchOp{{
			Op:    "add",
			Path:  fmt.Sprintf("/strategies/%s/pairs/%s/size_multiplier", pointerEscape(g.strategy), pointerEscape(g.pair)),
			Value: strategySizeScale,
		}}),
	}
}

func riskChange(g *tradeGroup, s groupStats, confidence float64) *models.Change {
	return &models.Change{
		Category:           models.CategoryRisk,
		Pair:               g.pair,
		Strategy:           g.strategy,
		RiskCategory:       models.RiskMedium,
		EstimatedImpact:    round2(s.stopLoss),
		AnalysisConfidence: confidence,
		Hypothesis: fmt.Sprintf("Stop-loss exits account for %.0f%% of losses on %s/%s (%d stops); stops are likely too tight for current volatility.",
			100*s.stopLoss/s.lossAbs, g.pair, g.strategy, s.stopCount),
		ChangeSummary:  fmt.Sprintf("Widen the stop distance on %s by %.0f%%.", g.pair, (stopSizeIncrease-1)*100),
		RiskAssessment: "Medium: larger per-trade loss when a stop is hit.",
		ExpectedImpact: fmt.Sprintf("Fewer premature stop-outs; up to %.2f of stop losses addressed.", s.stopLoss),
		ConfigPatch: mustPatch([]patchOp{{
			Op:    "add",
			Path:  fmt.Sprintf("/risk/pairs/%s/stop_loss_multiplier", pointerEscape(g.pair)),
			Value: stopSizeIncrease,
		}}),
	}
}

func regimeChange(g *tradeGroup, s groupStats, regime string, share, confidence float64) *models.Change {
	return &models.Change{
		Category:           models.CategoryRegime,
		Pair:               g.pair,
		Strategy:           g.strategy,
		RiskCategory:       models.RiskMedium,
		EstimatedImpact:    round2(s.regimeLoss[regime]),
		AnalysisConfidence: confidence,
		Hypothesis: fmt.Sprintf("%.0f%% of %s losses on %s occur in the %s regime.",
			share*100, g.strategy, g.pair, regime),
		ChangeSummary:  fmt.Sprintf("Block %s entries on %s while the regime is %s.", g.strategy, g.pair, regime),
		RiskAssessment: "Medium: fewer trades; regime classification errors could block good entries.",
		ExpectedImpact: fmt.Sprintf("Avoids up to %.2f of regime-concentrated losses.", s.regimeLoss[regime]),
		ConfigPatch: mustPatch([]patchOp{{
			Op:    "add",
			Path:  fmt.Sprintf("/regime_filters/%s/%s", pointerEscape(g.strategy), pointerEscape(regime)),
			Value: "block",
		}}),
	}
}

func feeChange(g *tradeGroup, s groupStats, confidence float64) *models.Change {
	return &models.Change{
		Category:           models.CategoryConfig,
		Pair:               g.pair,
		Strategy:           g.strategy,
		RiskCategory:       models.RiskLow,
		EstimatedImpact:    round2(s.fees),
		AnalysisConfidence: confidence,
		Hypothesis: fmt.Sprintf("Fees (%.2f) consume %.0f%% of gross profit on %s/%s.",
			s.fees, 100*s.fees/s.gross, g.pair, g.strategy),
		ChangeSummary:  fmt.Sprintf("Prefer maker (post-only) orders on %s.", g.pair),
		RiskAssessment: "Low: execution setting only; some entries may fill later or not at all.",
		ExpectedImpact: fmt.Sprintf("Recovers part of the %.2f fee drag.", s.fees),
		ConfigPatch: mustPatch([]patchOp{{
			Op:    "add",
			Path:  fmt.Sprintf("/execution/pairs/%s/prefer_maker", pointerEscape(g.pair)),
			Value: true,
		}}),
	}
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

func mustPatch(ops []patchOp) json.RawMessage {
	if len(ops) == 0 {
		return nil
	}
	data, err := json.Marshal(ops)
	if err != nil {
		panic(err)
	}
	return data
}

// pointerEscape escapes one JSON Pointer reference token (RFC 6901)
func pointerEscape(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
