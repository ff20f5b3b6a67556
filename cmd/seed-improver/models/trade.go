package models

import "time"

// Trade is a closed trade written by the trading engine.
// Maps to: trades table (read-only here). Nullable columns are pointers so
// the observability audit can count them as gaps.
type Trade struct {
	ID         string     `db:"id" json:"id"`
	Pair       *string    `db:"pair" json:"pair"`
	Strategy   *string    `db:"strategy" json:"strategy"`
	Side       string     `db:"side" json:"side"`
	Regime     *string    `db:"regime" json:"regime"`
	EntryPrice *float64   `db:"entry_price" json:"entry_price"`
	ExitPrice  *float64   `db:"exit_price" json:"exit_price"`
	PnL        *float64   `db:"pnl" json:"pnl"`
	Fees       float64    `db:"fees" json:"fees"`
	ExitReason string     `db:"exit_reason" json:"exit_reason"`
	OpenedAt   time.Time  `db:"opened_at" json:"opened_at"`
	ClosedAt   *time.Time `db:"closed_at" json:"closed_at"`
}

// PairOr returns the pair or a fallback when missing
func (t *Trade) PairOr(fallback string) string {
	if t.Pair == nil || *t.Pair == "" {
		return fallback
	}
	return *t.Pair
}

// StrategyOr returns the strategy or a fallback when missing
func (t *Trade) StrategyOr(fallback string) string {
	if t.Strategy == nil || *t.Strategy == "" {
		return fallback
	}
	return *t.Strategy
}

// PnLValue returns pnl or zero when missing
func (t *Trade) PnLValue() float64 {
	if t.PnL == nil {
		return 0
	}
	return *t.PnL
}

// IsLoss reports whether the trade closed with a negative pnl
func (t *Trade) IsLoss() bool {
	return t.PnL != nil && *t.PnL < 0
}

// TradeQuery bounds a trade history sample
type TradeQuery struct {
	Pair  string
	Limit int
}
