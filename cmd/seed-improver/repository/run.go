package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/db"
)

// RunFilter narrows run listings
type RunFilter struct {
	Status        models.RunStatus // empty matches every status
	StartedBefore *time.Time
	Limit         int
}

// RunRepository handles database operations for pipeline runs
type RunRepository struct {
	db *db.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(database *db.DB) *RunRepository {
	return &RunRepository{db: database}
}

const runColumns = `run_id, trigger_type, pair, status, started_at, finished_at, summary, error, counters`

// Create inserts a new run in running status
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal run counters: %w", err)
	}

	query := `
		INSERT INTO seed_improver_runs (run_id, trigger_type, pair, status, started_at, summary, counters)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(ctx, query,
		run.RunID,
		string(run.TriggerType),
		run.Pair,
		string(run.Status),
		run.StartedAt,
		run.Summary,
		counters,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// UpdateProgress stores intermediate counters and summary of a running run
func (r *RunRepository) UpdateProgress(ctx context.Context, runID uuid.UUID, summary string, counters models.RunCounters) error {
	data, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to marshal run counters: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE seed_improver_runs
		SET summary = $2, counters = $3
		WHERE run_id = $1 AND status = 'running'
	`, runID, summary, data)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotRunning
	}

	return nil
}

// Finish moves a running run to a terminal status. finished_at is written exactly once:
// the update only matches rows still in running status.
func (r *RunRepository) Finish(ctx context.Context, runID uuid.UUID, status models.RunStatus, summary, errText string, counters models.RunCounters, finishedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finish run with non-terminal status %q", status)
	}

	data, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to marshal run counters: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE seed_improver_runs
		SET status = $2, summary = $3, error = $4, counters = $5, finished_at = $6
		WHERE run_id = $1 AND status = 'running' AND finished_at IS NULL
	`, runID, string(status), summary, errText, data, finishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotRunning
	}

	return nil
}

// GetByID retrieves a run by id
func (r *RunRepository) GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	row := r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM seed_improver_runs WHERE run_id = $1`, runID)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// List returns runs newest first
func (r *RunRepository) List(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT ` + runColumns + `
		FROM seed_improver_runs
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR started_at < $2)
		ORDER BY started_at DESC, run_id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, string(filter.Status), filter.StartedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var (
		run      models.Run
		trigger  string
		status   string
		counters []byte
	)

	if err := row.Scan(
		&run.RunID,
		&trigger,
		&run.Pair,
		&status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Summary,
		&run.Error,
		&counters,
	); err != nil {
		return nil, err
	}

	run.TriggerType = models.TriggerType(trigger)
	run.Status = models.RunStatus(status)

	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &run.Counters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run counters: %w", err)
		}
	}

	return &run, nil
}
