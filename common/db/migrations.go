package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/seed-improver/common/logger"
)

// Migration is one additive schema step. Steps only create tables, add
// columns, or add indexes; existing columns are never dropped or renamed.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Migrations is the ordered schema history
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "runs_changes_patterns",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS seed_improver_runs (
				run_id       UUID PRIMARY KEY,
				trigger_type TEXT NOT NULL CHECK (trigger_type IN ('manual', 'scheduled', 'loss')),
				status       TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
				finished_at  TIMESTAMPTZ,
				summary      TEXT NOT NULL DEFAULT '',
				counters     JSONB NOT NULL DEFAULT '{}'::jsonb
			)`,
			`CREATE TABLE IF NOT EXISTS seed_improver_changes (
				id                        UUID PRIMARY KEY,
				run_id                    UUID NOT NULL REFERENCES seed_improver_runs(run_id),
				priority                  TEXT NOT NULL CHECK (priority IN ('low', 'medium', 'high', 'critical')),
				hypothesis                TEXT NOT NULL,
				change_summary            TEXT NOT NULL,
				risk_assessment           TEXT NOT NULL CHECK (risk_assessment <> ''),
				expected_impact           TEXT NOT NULL CHECK (expected_impact <> ''),
				compatibility_check       TEXT NOT NULL DEFAULT '',
				verdict                   TEXT CHECK (verdict IN ('approve', 'reject', 'defer')),
				verdict_reason            TEXT,
				verdict_confidence        DOUBLE PRECISION CHECK (verdict_confidence BETWEEN 0 AND 1),
				risk_score                TEXT CHECK (risk_score IN ('low', 'medium', 'high')),
				implementation_branch     TEXT,
				implementation_commit_sha TEXT,
				implementation_outcome    TEXT CHECK (implementation_outcome IN ('implemented', 'failed', 'skipped')),
				created_at                TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_seed_improver_changes_run ON seed_improver_changes (run_id)`,
			`CREATE TABLE IF NOT EXISTS seed_improver_patterns (
				pattern_key  TEXT PRIMARY KEY,
				title        TEXT NOT NULL,
				tags         TEXT[] NOT NULL DEFAULT '{}',
				seen_count   BIGINT NOT NULL DEFAULT 1 CHECK (seen_count >= 1),
				last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
		},
	},
	{
		Version: 2,
		Name:    "run_context_and_change_analysis",
		Statements: []string{
			`ALTER TABLE seed_improver_runs ADD COLUMN IF NOT EXISTS pair TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE seed_improver_runs ADD COLUMN IF NOT EXISTS error TEXT NOT NULL DEFAULT ''`,
			`CREATE INDEX IF NOT EXISTS idx_seed_improver_runs_status_started ON seed_improver_runs (status, started_at DESC)`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS seq INT NOT NULL DEFAULT 0`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS category TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS pair TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS strategy TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS risk_category TEXT NOT NULL DEFAULT 'medium'`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS strategy_affecting BOOLEAN NOT NULL DEFAULT false`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS estimated_impact DOUBLE PRECISION NOT NULL DEFAULT 0`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS analysis_confidence DOUBLE PRECISION NOT NULL DEFAULT 1`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS config_patch JSONB`,
			`ALTER TABLE seed_improver_changes ADD COLUMN IF NOT EXISTS pattern_key TEXT NOT NULL DEFAULT ''`,
		},
	},
}

// migrationLockKey is the advisory lock every replica takes before touching the schema
const migrationLockKey int64 = 0x5eed_1a7e

const (
	lockMigrationsSQL        = `SELECT pg_advisory_xact_lock($1)`
	createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS seed_improver_schema_migrations (
		version    INT PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	currentVersionSQL        = `SELECT COALESCE(MAX(version), 0) FROM seed_improver_schema_migrations`
	recordMigrationSQL       = `INSERT INTO seed_improver_schema_migrations (version, name) VALUES ($1, $2)`
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Migrate applies pending migrations inside one transaction per version.
// Replicas starting together queue on an advisory lock, so each version runs once.
func (db *DB) Migrate(ctx context.Context) error {
	return migrate(ctx, db.Pool, db.log)
}

func migrate(ctx context.Context, b txBeginner, log *logger.Logger) error {
	for {
		m, err := applyNext(ctx, b)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		log.Info("applied migration", "version", m.Version, "name", m.Name)
	}
}

// applyNext applies the oldest pending migration while holding the lock.
// It returns nil when the schema is current.
func applyNext(ctx context.Context, b txBeginner) (*Migration, error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin migration: %w", err)
	}
	// no-op once committed; otherwise releases the lock
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, lockMigrationsSQL, migrationLockKey); err != nil {
		return nil, fmt.Errorf("lock migrations: %w", err)
	}
	if _, err := tx.Exec(ctx, createMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := tx.QueryRow(ctx, currentVersionSQL).Scan(&current); err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	pending := Pending(current)
	if len(pending) == 0 {
		return nil, nil
	}
	m := pending[0]

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	if _, err := tx.Exec(ctx, recordMigrationSQL, m.Version, m.Name); err != nil {
		return nil, fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return &m, nil
}

// Pending returns the migrations newer than version, in order
func Pending(version int) []Migration {
	var out []Migration
	for _, m := range Migrations {
		if m.Version > version {
			out = append(out, m)
		}
	}
	return out
}
