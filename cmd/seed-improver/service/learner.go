package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/logger"
)

// LearnResult reports the patterns touched by one run
type LearnResult struct {
	Touched   int
	SeenCount map[uuid.UUID]int64 // change id -> pattern seen-count after upsert
}

// PatternLearner folds every recommendation of a run into the shared pattern store
type PatternLearner struct {
	patterns PatternStore
	changes  ChangeStore
	log      *logger.Logger
	now      func() time.Time
}

// NewPatternLearner creates a new pattern learner
func NewPatternLearner(patterns PatternStore, changes ChangeStore, log *logger.Logger) *PatternLearner {
	return &PatternLearner{patterns: patterns, changes: changes, log: log, now: time.Now}
}

// PatternKey is the deterministic signature of a recommendation:
// category|pair|strategy, lowercased with blanks collapsed to dashes.
// Free text never contributes to the key.
func PatternKey(c *models.Change) string {
	return strings.Join([]string{
		normalizeKeyPart(string(c.Category)),
		normalizeKeyPart(c.Pair),
		normalizeKeyPart(c.Strategy),
	}, "|")
}

func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "*"
	}
	return strings.Join(strings.Fields(s), "-")
}

func patternTags(c *models.Change) []string {
	tags := []string{"category:" + string(c.Category)}
	if c.Pair != "" {
		tags = append(tags, "pair:"+c.Pair)
	}
	if c.Strategy != "" {
		tags = append(tags, "strategy:"+c.Strategy)
	}
	return tags
}

// Learn upserts one occurrence per recommendation. A store failure is an
// orchestration fault: losing the increment would corrupt seen-counts.
func (l *PatternLearner) Learn(ctx context.Context, changes []*models.Change) (*LearnResult, error) {
	res := &LearnResult{SeenCount: make(map[uuid.UUID]int64, len(changes))}
	touched := make(map[string]struct{})

	for _, c := range changes {
		key := PatternKey(c)

		p, err := l.patterns.Upsert(ctx, models.PatternOccurrence{
			PatternKey: key,
			Title:      c.ChangeSummary,
			Tags:       patternTags(c),
			SeenAt:     l.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upsert pattern %s: %w", key, err)
		}

		if err := l.changes.SetPatternKey(ctx, c.ID, key); err != nil {
			return nil, fmt.Errorf("failed to link change %s to pattern: %w", c.ID, err)
		}
		c.PatternKey = key

		touched[key] = struct{}{}
		res.SeenCount[c.ID] = p.SeenCount

		l.log.Debug("pattern upserted", "pattern_key", key, "seen_count", p.SeenCount)
	}

	res.Touched = len(touched)
	return res, nil
}
