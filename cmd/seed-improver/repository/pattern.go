package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/db"
)

// PatternRepository is the shared pattern store. Upserts are single statements so
// concurrent runs incrementing the same key never lose updates.
type PatternRepository struct {
	db *db.DB
}

// NewPatternRepository creates a new pattern repository
func NewPatternRepository(database *db.DB) *PatternRepository {
	return &PatternRepository{db: database}
}

// Upsert inserts a pattern with seen_count 1 or increments an existing one,
// refreshing last_seen_at and merging tags
func (r *PatternRepository) Upsert(ctx context.Context, occ models.PatternOccurrence) (*models.Pattern, error) {
	tags := occ.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO seed_improver_patterns (pattern_key, title, tags, seen_count, last_seen_at, created_at)
		VALUES ($1, $2, $3, 1, $4, $4)
		ON CONFLICT (pattern_key) DO UPDATE SET
			seen_count   = seed_improver_patterns.seen_count + 1,
			last_seen_at = GREATEST(seed_improver_patterns.last_seen_at, EXCLUDED.last_seen_at),
			tags         = ARRAY(
				SELECT DISTINCT t FROM unnest(seed_improver_patterns.tags || EXCLUDED.tags) AS t ORDER BY t
			)
		RETURNING pattern_key, title, tags, seen_count, last_seen_at, created_at
	`

	p := &models.Pattern{}
	err := r.db.QueryRow(ctx, query, occ.PatternKey, occ.Title, tags, occ.SeenAt).Scan(
		&p.PatternKey, &p.Title, &p.Tags, &p.SeenCount, &p.LastSeenAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pattern %s: %w", occ.PatternKey, err)
	}

	return p, nil
}

// Get retrieves a pattern by key
func (r *PatternRepository) Get(ctx context.Context, key string) (*models.Pattern, error) {
	p := &models.Pattern{}
	err := r.db.QueryRow(ctx, `
		SELECT pattern_key, title, tags, seen_count, last_seen_at, created_at
		FROM seed_improver_patterns
		WHERE pattern_key = $1
	`, key).Scan(&p.PatternKey, &p.Title, &p.Tags, &p.SeenCount, &p.LastSeenAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}

	return p, nil
}

// ListTop returns the most frequently seen patterns
func (r *PatternRepository) ListTop(ctx context.Context, limit int) ([]*models.Pattern, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx, `
		SELECT pattern_key, title, tags, seen_count, last_seen_at, created_at
		FROM seed_improver_patterns
		ORDER BY seen_count DESC, last_seen_at DESC, pattern_key ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var patterns []*models.Pattern
	for rows.Next() {
		p := &models.Pattern{}
		if err := rows.Scan(&p.PatternKey, &p.Title, &p.Tags, &p.SeenCount, &p.LastSeenAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}

	return patterns, nil
}
