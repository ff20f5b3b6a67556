package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/cmd/seed-improver/repository"
)

// RunStore is the run ledger
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	UpdateProgress(ctx context.Context, runID uuid.UUID, summary string, counters models.RunCounters) error
	Finish(ctx context.Context, runID uuid.UUID, status models.RunStatus, summary, errText string, counters models.RunCounters, finishedAt time.Time) error
	GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error)
	List(ctx context.Context, filter repository.RunFilter) ([]*models.Run, error)
}

// ChangeStore holds the recommendations of every run
type ChangeStore interface {
	Create(ctx context.Context, c *models.Change) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Change, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Change, error)
	SetPatternKey(ctx context.Context, id uuid.UUID, key string) error
	AppendCheck(ctx context.Context, id uuid.UUID, note string) error
	SetVerdict(ctx context.Context, id uuid.UUID, j models.Judgement) error
	SetImplementation(ctx context.Context, id uuid.UUID, impl models.Implementation) error
}

// PatternStore is shared by all runs; Upsert must be atomic per key
type PatternStore interface {
	Upsert(ctx context.Context, occ models.PatternOccurrence) (*models.Pattern, error)
	Get(ctx context.Context, key string) (*models.Pattern, error)
	ListTop(ctx context.Context, limit int) ([]*models.Pattern, error)
}

// TradeSource reads trade history
type TradeSource interface {
	RecentTrades(ctx context.Context, q models.TradeQuery) ([]*models.Trade, error)
}

// Stores groups the persistence dependencies of the pipeline
type Stores struct {
	Runs     RunStore
	Changes  ChangeStore
	Patterns PatternStore
	Trades   TradeSource
}

// MemoryStores adapts an in-memory store
func MemoryStores(m *repository.MemoryStore) Stores {
	return Stores{Runs: m.Runs, Changes: m.Changes, Patterns: m.Patterns, Trades: m.Trades}
}
