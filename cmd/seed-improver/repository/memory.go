package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
)

// MemoryStore keeps runs, changes, patterns and trades in process memory.
// It mirrors the guarded updates of the Postgres repositories and is used by
// STORE_TYPE=memory and by tests.
type MemoryStore struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*models.Run
	changes  map[uuid.UUID]*models.Change
	patterns map[string]*models.Pattern
	trades   []*models.Trade

	Runs     *MemoryRuns
	Changes  *MemoryChanges
	Patterns *MemoryPatterns
	Trades   *MemoryTrades
}

// MemoryRuns is the run view of a MemoryStore
type MemoryRuns struct{ s *MemoryStore }

// MemoryChanges is the change view of a MemoryStore
type MemoryChanges struct{ s *MemoryStore }

// MemoryPatterns is the pattern view of a MemoryStore
type MemoryPatterns struct{ s *MemoryStore }

// MemoryTrades is the trade view of a MemoryStore
type MemoryTrades struct{ s *MemoryStore }

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		runs:     make(map[uuid.UUID]*models.Run),
		changes:  make(map[uuid.UUID]*models.Change),
		patterns: make(map[string]*models.Pattern),
	}
	s.Runs = &MemoryRuns{s: s}
	s.Changes = &MemoryChanges{s: s}
	s.Patterns = &MemoryPatterns{s: s}
	s.Trades = &MemoryTrades{s: s}
	return s
}

// AddTrades seeds the trade history
func (s *MemoryStore) AddTrades(trades ...*models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trades {
		cp := *t
		s.trades = append(s.trades, &cp)
	}
}

func copyRun(r *models.Run) *models.Run {
	cp := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func copyChange(c *models.Change) *models.Change {
	cp := *c
	if c.ConfigPatch != nil {
		cp.ConfigPatch = append([]byte(nil), c.ConfigPatch...)
	}
	return &cp
}

func copyPattern(p *models.Pattern) *models.Pattern {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	return &cp
}

// Create inserts a new run
func (m *MemoryRuns) Create(ctx context.Context, run *models.Run) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.runs[run.RunID] = copyRun(run)
	return nil
}

// UpdateProgress stores intermediate counters and summary of a running run
func (m *MemoryRuns) UpdateProgress(ctx context.Context, runID uuid.UUID, summary string, counters models.RunCounters) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	run, ok := m.s.runs[runID]
	if !ok || run.Status != models.RunRunning {
		return ErrRunNotRunning
	}
	run.Summary = summary
	run.Counters = counters
	return nil
}

// Finish moves a running run to a terminal status
func (m *MemoryRuns) Finish(ctx context.Context, runID uuid.UUID, status models.RunStatus, summary, errText string, counters models.RunCounters, finishedAt time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	run, ok := m.s.runs[runID]
	if !ok || run.Status != models.RunRunning || run.FinishedAt != nil {
		return ErrRunNotRunning
	}
	run.Status = status
	run.Summary = summary
	run.Error = errText
	run.Counters = counters
	run.FinishedAt = &finishedAt
	return nil
}

// GetByID retrieves a run by id
func (m *MemoryRuns) GetByID(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	run, ok := m.s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(run), nil
}

// List returns runs newest first
func (m *MemoryRuns) List(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var runs []*models.Run
	for _, run := range m.s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.StartedBefore != nil && !run.StartedAt.Before(*filter.StartedBefore) {
			continue
		}
		runs = append(runs, copyRun(run))
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].RunID.String() > runs[j].RunID.String()
	})

	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Create inserts a new change
func (m *MemoryChanges) Create(ctx context.Context, c *models.Change) error {
	if err := validateChange(c); err != nil {
		return err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.changes[c.ID] = copyChange(c)
	return nil
}

// ListByRun retrieves all changes of a run in detection order
func (m *MemoryChanges) ListByRun(ctx context.Context, runID uuid.UUID) ([]*models.Change, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var changes []*models.Change
	for _, c := range m.s.changes {
		if c.RunID == runID {
			changes = append(changes, copyChange(c))
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Seq != changes[j].Seq {
			return changes[i].Seq < changes[j].Seq
		}
		return changes[i].ID.String() < changes[j].ID.String()
	})
	return changes, nil
}

// GetByID retrieves a single change
func (m *MemoryChanges) GetByID(ctx context.Context, id uuid.UUID) (*models.Change, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.changes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChange(c), nil
}

// SetPatternKey links a change to its pattern
func (m *MemoryChanges) SetPatternKey(ctx context.Context, id uuid.UUID, key string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.changes[id]
	if !ok {
		return ErrNotFound
	}
	c.PatternKey = key
	return nil
}

// AppendCheck appends a line to the compatibility annotation
func (m *MemoryChanges) AppendCheck(ctx context.Context, id uuid.UUID, note string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.changes[id]
	if !ok {
		return ErrNotFound
	}
	c.CompatibilityCheck = appendNote(c.CompatibilityCheck, note)
	return nil
}

// SetVerdict records the judge's verdict at most once
func (m *MemoryChanges) SetVerdict(ctx context.Context, id uuid.UUID, j models.Judgement) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.changes[id]
	if !ok || c.Verdict != nil {
		return ErrAlreadyJudged
	}

	verdict := j.Verdict
	reason := j.Reason
	confidence := j.Confidence
	risk := j.RiskScore
	c.Verdict = &verdict
	c.VerdictReason = &reason
	c.VerdictConfidence = &confidence
	c.RiskScore = &risk
	return nil
}

// SetImplementation records the auto-implementation outcome of an approved change
func (m *MemoryChanges) SetImplementation(ctx context.Context, id uuid.UUID, impl models.Implementation) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	c, ok := m.s.changes[id]
	if !ok || !c.Approved() || c.ImplementationOutcome != nil {
		return ErrImplementationNotAllowed
	}

	outcome := impl.Outcome
	c.ImplementationOutcome = &outcome
	if impl.Branch != "" {
		branch := impl.Branch
		c.ImplementationBranch = &branch
	}
	if impl.Commit != "" {
		commit := impl.Commit
		c.ImplementationCommit = &commit
	}
	c.CompatibilityCheck = appendNote(c.CompatibilityCheck, impl.Detail)
	return nil
}

// Upsert inserts a pattern or increments an existing one
func (m *MemoryPatterns) Upsert(ctx context.Context, occ models.PatternOccurrence) (*models.Pattern, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	p, ok := m.s.patterns[occ.PatternKey]
	if !ok {
		p = &models.Pattern{
			PatternKey: occ.PatternKey,
			Title:      occ.Title,
			Tags:       mergeTags(nil, occ.Tags),
			SeenCount:  1,
			LastSeenAt: occ.SeenAt,
			CreatedAt:  occ.SeenAt,
		}
		m.s.patterns[occ.PatternKey] = p
		return copyPattern(p), nil
	}

	p.SeenCount++
	if occ.SeenAt.After(p.LastSeenAt) {
		p.LastSeenAt = occ.SeenAt
	}
	p.Tags = mergeTags(p.Tags, occ.Tags)
	return copyPattern(p), nil
}

// Get retrieves a pattern by key
func (m *MemoryPatterns) Get(ctx context.Context, key string) (*models.Pattern, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	p, ok := m.s.patterns[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPattern(p), nil
}

// ListTop returns the most frequently seen patterns
func (m *MemoryPatterns) ListTop(ctx context.Context, limit int) ([]*models.Pattern, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	patterns := make([]*models.Pattern, 0, len(m.s.patterns))
	for _, p := range m.s.patterns {
		patterns = append(patterns, copyPattern(p))
	}
	sort.Slice(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.SeenCount != b.SeenCount {
			return a.SeenCount > b.SeenCount
		}
		if !a.LastSeenAt.Equal(b.LastSeenAt) {
			return a.LastSeenAt.After(b.LastSeenAt)
		}
		return a.PatternKey < b.PatternKey
	})

	if len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns, nil
}

// RecentTrades returns the newest closed trades, optionally restricted to one pair
func (m *MemoryTrades) RecentTrades(ctx context.Context, q models.TradeQuery) ([]*models.Trade, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 30
	}

	var trades []*models.Trade
	for _, t := range m.s.trades {
		if t.ClosedAt == nil {
			continue
		}
		if q.Pair != "" && t.PairOr("") != q.Pair {
			continue
		}
		cp := *t
		trades = append(trades, &cp)
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ClosedAt.After(*trades[j].ClosedAt)
	})

	if len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

// mergeTags returns the sorted union of two tag sets
func mergeTags(existing, incoming []string) []string {
	set := make(map[string]struct{}, len(existing)+len(incoming))
	for _, t := range existing {
		set[t] = struct{}{}
	}
	for _, t := range incoming {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
