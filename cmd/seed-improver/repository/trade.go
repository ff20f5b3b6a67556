package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/db"
)

// TradeRepository reads the trade history written by the trading engine
type TradeRepository struct {
	db *db.DB
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(database *db.DB) *TradeRepository {
	return &TradeRepository{db: database}
}

// RecentTrades returns the newest closed trades, optionally restricted to one pair.
// Open positions are not part of the history.
func (r *TradeRepository) RecentTrades(ctx context.Context, q models.TradeQuery) ([]*models.Trade, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 30
	}

	query := `
		SELECT id::text, pair, strategy, COALESCE(side, ''), regime,
		       entry_price, exit_price, pnl, COALESCE(fees, 0), COALESCE(exit_reason, ''),
		       opened_at, closed_at
		FROM trades
		WHERE closed_at IS NOT NULL
		  AND ($1 = '' OR pair = $1)
		ORDER BY closed_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, q.Pair, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		if err := rows.Scan(
			&t.ID, &t.Pair, &t.Strategy, &t.Side, &t.Regime,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Fees, &t.ExitReason,
			&t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}
