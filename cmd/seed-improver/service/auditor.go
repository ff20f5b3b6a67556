package service

import (
	"sort"
	"time"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
)

// requiredTradeFields are the columns analysis depends on
var requiredTradeFields = []string{"pair", "strategy", "regime", "entry_price", "exit_price", "pnl", "closed_at"}

// AuditResult is the Phase 0 report
type AuditResult struct {
	TradesSampled int            `json:"trades_sampled"`
	Gaps          int            `json:"gaps"`
	Completeness  float64        `json:"completeness"`
	MissingFields map[string]int `json:"missing_fields"`
	TimeGaps      int            `json:"time_gaps"`
}

// Auditor checks whether the sampled trade window is complete enough to analyze.
// Incomplete data never fails a run; it lowers downstream confidence.
type Auditor struct {
	gapWindow time.Duration
}

// NewAuditor creates an auditor. Consecutive closed trades further apart than
// gapWindow count as one gap of missing records.
func NewAuditor(gapWindow time.Duration) *Auditor {
	return &Auditor{gapWindow: gapWindow}
}

// Audit inspects trades
func (a *Auditor) Audit(trades []*models.Trade) AuditResult {
	res := AuditResult{
		TradesSampled: len(trades),
		MissingFields: make(map[string]int),
	}
	if len(trades) == 0 {
		return res
	}

	filled := 0
	var closes []time.Time
	for _, t := range trades {
		present := map[string]bool{
			"pair":        t.Pair != nil && *t.Pair != "",
			"strategy":    t.Strategy != nil && *t.Strategy != "",
			"regime":      t.Regime != nil && *t.Regime != "",
			"entry_price": t.EntryPrice != nil,
			"exit_price":  t.ExitPrice != nil,
			"pnl":         t.PnL != nil,
			"closed_at":   t.ClosedAt != nil,
		}
		for _, f := range requiredTradeFields {
			if present[f] {
				filled++
			} else {
				res.MissingFields[f]++
				res.Gaps++
			}
		}
		if t.ClosedAt != nil {
			closes = append(closes, *t.ClosedAt)
		}
	}

	if a.gapWindow > 0 && len(closes) > 1 {
		sort.Slice(closes, func(i, j int) bool { return closes[i].Before(closes[j]) })
		for i := 1; i < len(closes); i++ {
			if closes[i].Sub(closes[i-1]) > a.gapWindow {
				res.TimeGaps++
			}
		}
		res.Gaps += res.TimeGaps
	}

	total := len(trades) * len(requiredTradeFields)
	res.Completeness = float64(filled) / float64(total)
	return res
}
