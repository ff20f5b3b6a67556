package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/cmd/seed-improver/repository"
	"github.com/lyzr/seed-improver/common/bootstrap"
	"github.com/lyzr/seed-improver/common/config"
	"github.com/lyzr/seed-improver/common/gitrepo"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/lyzr/seed-improver/common/reasoning"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func str(s string) *string   { return &s }
func num(v float64) *float64 { return &v }

func at(h int) *time.Time {
	ts := t0.Add(time.Duration(h) * time.Hour)
	return &ts
}

func trade(id, pair, strategy, regime string, pnl, fees float64, exit string, hour int) *models.Trade {
	return &models.Trade{
		ID:         id,
		Pair:       str(pair),
		Strategy:   str(strategy),
		Side:       "long",
		Regime:     str(regime),
		EntryPrice: num(100),
		ExitPrice:  num(100 + pnl),
		PnL:        num(pnl),
		Fees:       fees,
		ExitReason: exit,
		OpenedAt:   t0.Add(time.Duration(hour-1) * time.Hour),
		ClosedAt:   at(hour),
	}
}

// losingMomentum yields a strategy change and a stop-loss risk change of equal impact
func losingMomentum() []*models.Trade {
	return []*models.Trade{
		trade("m1", "BTC/USDT", "momentum", "trend", -10, 0, "stop_loss", 1),
		trade("m2", "BTC/USDT", "momentum", "trend", -8, 0, "stop_loss", 2),
		trade("m3", "BTC/USDT", "momentum", "trend", -12, 0, "stop_loss", 3),
		trade("m4", "BTC/USDT", "momentum", "trend", 5, 0, "take_profit", 4),
		trade("m5", "BTC/USDT", "momentum", "trend", -6, 0, "stop_loss", 5),
	}
}

// feeDrag yields a single low-risk config change
func feeDrag() []*models.Trade {
	return []*models.Trade{
		trade("f1", "ETH/USDT", "scalp", "range", 1, 2, "take_profit", 1),
		trade("f2", "ETH/USDT", "scalp", "range", 1, 2, "take_profit", 2),
		trade("f3", "ETH/USDT", "scalp", "range", 1, 2, "take_profit", 3),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Improver: config.ImproverConfig{
			SampleSize:        30,
			PriorRuns:         3,
			MinGroupTrades:    3,
			RunTimeout:        time.Minute,
			GapWindow:         24 * time.Hour,
			AllowedPatchPaths: []string{"/telemetry", "/execution", "/risk", "/strategies", "/regime_filters"},
			TestCommand:       "go test ./...",
			TestTimeout:       time.Minute,
		},
	}
}

type harness struct {
	store    *repository.MemoryStore
	stores   Stores
	svc      *ImproverService
	tunables *TunablesFile
}

type harnessOpts struct {
	configure func(*config.Config)
	reasoning reasoning.Service
	workspace Workspace
	stores    func(Stores) Stores
	events    RunEvents
}

func newHarness(t *testing.T, opts harnessOpts, trades ...*models.Trade) *harness {
	t.Helper()

	cfg := testConfig()
	if opts.configure != nil {
		opts.configure(cfg)
	}

	store := repository.NewMemoryStore()
	store.AddTrades(trades...)
	stores := MemoryStores(store)
	if opts.stores != nil {
		stores = opts.stores(stores)
	}

	tunables := NewTunablesFile(filepath.Join(t.TempDir(), "tunables.json"))
	svc := NewImproverService(&ImproverServiceOpts{
		Stores:     stores,
		Components: &bootstrap.Components{Config: cfg, Logger: logger.Discard()},
		Reasoning:  opts.reasoning,
		Workspace:  opts.workspace,
		Tunables:   tunables,
		Events:     opts.events,
	})

	return &harness{store: store, stores: stores, svc: svc, tunables: tunables}
}

// fakeReasoning answers Classify with judge and GeneratePatch with patch
type fakeReasoning struct {
	mu       sync.Mutex
	judge    func(reasoning.ChangeContext) (*reasoning.Judgement, error)
	patch    string
	patchErr error
	calls    int
}

func verdict(v, risk string) func(reasoning.ChangeContext) (*reasoning.Judgement, error) {
	return func(reasoning.ChangeContext) (*reasoning.Judgement, error) {
		return &reasoning.Judgement{Verdict: v, Reason: "model reason", Confidence: 0.8, RiskScore: risk}, nil
	}
}

func (f *fakeReasoning) Classify(ctx context.Context, c reasoning.ChangeContext) (*reasoning.Judgement, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.judge(c)
}

func (f *fakeReasoning) GeneratePatch(ctx context.Context, req reasoning.PatchRequest) (string, error) {
	if f.patchErr != nil {
		return "", f.patchErr
	}
	return f.patch, nil
}

const samplePatch = "diff --git a/x.go b/x.go\n--- a/x.go\n+++ b/x.go\n@@ -1 +1 @@\n-a\n+b\n"

// fakeWorkspace records branch operations in memory
type fakeWorkspace struct {
	mu              sync.Mutex
	applyErr        error
	testResult      *gitrepo.TestResult
	dirtyAfterReset bool
	opened          []string
	checkout        *fakeCheckout
}

func passingWorkspace() *fakeWorkspace {
	return &fakeWorkspace{testResult: &gitrepo.TestResult{Passed: true}}
}

func (w *fakeWorkspace) TrackedFiles(ctx context.Context) ([]string, error) {
	return []string{"go.mod", "internal/strategy/momentum.go"}, nil
}

func (w *fakeWorkspace) Open(ctx context.Context, branch string) (Checkout, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened = append(w.opened, branch)
	w.checkout = &fakeCheckout{ws: w, head: "base"}
	return w.checkout, nil
}

type fakeCheckout struct {
	ws      *fakeWorkspace
	head    string
	commits int
	resets  []string
	closed  bool
	dirty   bool
}

func (c *fakeCheckout) Head(ctx context.Context) (string, error) { return c.head, nil }

func (c *fakeCheckout) ApplyAndCommit(ctx context.Context, diff, message string) (string, error) {
	if c.ws.applyErr != nil {
		return "", c.ws.applyErr
	}
	c.commits++
	c.head = fmt.Sprintf("commit-%d", c.commits)
	return c.head, nil
}

func (c *fakeCheckout) ResetTo(ctx context.Context, sha string) error {
	c.resets = append(c.resets, sha)
	c.head = sha
	c.dirty = c.ws.dirtyAfterReset
	return nil
}

func (c *fakeCheckout) Clean(ctx context.Context) (bool, error) { return !c.dirty, nil }

func (c *fakeCheckout) RunTests(ctx context.Context, command string, timeout time.Duration) (*gitrepo.TestResult, error) {
	return c.ws.testResult, nil
}

func (c *fakeCheckout) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

type failingPatterns struct {
	PatternStore
}

func (failingPatterns) Upsert(ctx context.Context, occ models.PatternOccurrence) (*models.Pattern, error) {
	return nil, errors.New("connection reset by peer")
}
