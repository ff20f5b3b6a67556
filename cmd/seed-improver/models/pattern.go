package models

import "time"

// Pattern is a recurring recommendation/failure signature shared across runs.
// Maps to: seed_improver_patterns table
type Pattern struct {
	PatternKey string    `db:"pattern_key" json:"pattern_key"`
	Title      string    `db:"title" json:"title"`
	Tags       []string  `db:"tags" json:"tags"`
	SeenCount  int64     `db:"seen_count" json:"seen_count"`
	LastSeenAt time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PatternOccurrence is one observation to upsert into the pattern store
type PatternOccurrence struct {
	PatternKey string
	Title      string
	Tags       []string
	SeenAt     time.Time
}
