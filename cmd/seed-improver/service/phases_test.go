package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/cmd/seed-improver/repository"
	"github.com/lyzr/seed-improver/common/gitrepo"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/lyzr/seed-improver/common/policy"
	"github.com/lyzr/seed-improver/common/reasoning"
	"github.com/lyzr/seed-improver/common/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persisted creates a run and stores recommendations for trades
func persisted(t *testing.T, store *repository.MemoryStore, trades []*models.Trade) (*models.Run, []*models.Change) {
	t.Helper()
	ctx := context.Background()

	run := &models.Run{RunID: uuid.New(), TriggerType: models.TriggerManual, Status: models.RunRunning, StartedAt: t0}
	require.NoError(t, store.Runs.Create(ctx, run))

	changes := NewRecommender(3).Recommend(run.RunID, trades, AuditResult{Completeness: 1})
	for _, c := range changes {
		require.NoError(t, store.Changes.Create(ctx, c))
	}
	return run, changes
}

func TestPatternKeyNormalizes(t *testing.T) {
	c := &models.Change{Category: models.CategoryRisk, Pair: "BTC/USDT", Strategy: " Mean  Reversion "}
	assert.Equal(t, "risk|btc/usdt|mean-reversion", PatternKey(c))

	telemetry := &models.Change{Category: models.CategoryTelemetry}
	assert.Equal(t, "telemetry|*|*", PatternKey(telemetry))
}

func TestLearnCountsDistinctKeysAndLinksChanges(t *testing.T) {
	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, append(losingMomentum(), feeDrag()...))
	learner := NewPatternLearner(store.Patterns, store.Changes, logger.Discard())

	res, err := learner.Learn(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Touched)

	stored, err := store.Changes.GetByID(context.Background(), changes[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "strategy|btc/usdt|momentum", stored.PatternKey)

	// a second run observing the same signatures increments
	res, err = learner.Learn(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.SeenCount[changes[0].ID])

	p, err := store.Patterns.Get(context.Background(), "config|eth/usdt|scalp")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.SeenCount)
	assert.ElementsMatch(t, []string{"category:config", "pair:ETH/USDT", "strategy:scalp"}, p.Tags)
}

func newActioner(changes ChangeStore, tunables *TunablesFile, flags ActionFlags, policies *policy.Store) *Actioner {
	return NewActioner(&ActionerOpts{
		Changes:   changes,
		Tunables:  tunables,
		Validator: validation.NewPatchValidator(testConfig().Improver.AllowedPatchPaths),
		Policies:  policies,
		Flags:     flags,
		Logger:    logger.Discard(),
	})
}

func TestActionerAppliesLowRiskChange(t *testing.T) {
	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, append(losingMomentum(), feeDrag()...))
	tunables := NewTunablesFile(filepath.Join(t.TempDir(), "cfg", "tunables.json"))

	res, err := newActioner(store.Changes, tunables, ActionFlags{General: true}, nil).Act(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Zero(t, res.Failed)

	data, err := os.ReadFile(tunables.Path())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	pairs := doc["execution"].(map[string]any)["pairs"].(map[string]any)
	assert.Equal(t, true, pairs["ETH/USDT"].(map[string]any)["prefer_maker"])

	for _, c := range changes {
		stored, err := store.Changes.GetByID(context.Background(), c.ID)
		require.NoError(t, err)
		if c.Category == models.CategoryConfig {
			assert.Equal(t, models.AppliedMarker, stored.CompatibilityCheck)
		} else {
			// strategy flag off, risk change is medium
			assert.Empty(t, stored.CompatibilityCheck)
		}
	}
}

func TestActionerStrategyFlagIsIndependent(t *testing.T) {
	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, losingMomentum())
	tunables := NewTunablesFile(filepath.Join(t.TempDir(), "tunables.json"))

	res, err := newActioner(store.Changes, tunables, ActionFlags{Strategy: true}, nil).Act(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	data, err := tunables.Read()
	require.NoError(t, err)
	assert.Contains(t, string(data), "size_multiplier")
	assert.NotContains(t, string(data), "stop_loss_multiplier")
}

func TestActionerRecordsApplyFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, feeDrag())
	tunables := NewTunablesFile(filepath.Join(t.TempDir(), "tunables.json"))
	require.NoError(t, os.WriteFile(tunables.Path(), []byte(`{"execution": "flat"}`), 0o644))

	res, err := newActioner(store.Changes, tunables, ActionFlags{General: true}, nil).Act(context.Background(), changes)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored, err := store.Changes.GetByID(context.Background(), changes[0].ID)
	require.NoError(t, err)
	assert.Contains(t, stored.CompatibilityCheck, "[APPLY-FAILED]")
}

func TestActionerHonorsPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("general: change.analysis_confidence >= 0.9\n"), 0o644))
	policies, err := policy.NewStore(path, logger.Discard())
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, feeDrag())
	tunables := NewTunablesFile(filepath.Join(t.TempDir(), "tunables.json"))

	res, err := newActioner(store.Changes, tunables, ActionFlags{General: true}, policies).Act(context.Background(), changes)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)

	_, err = os.Stat(tunables.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestActionerRecordsPolicyFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("general: change.no_such_field == 1\n"), 0o644))
	policies, err := policy.NewStore(path, logger.Discard())
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, feeDrag())
	tunables := NewTunablesFile(filepath.Join(t.TempDir(), "tunables.json"))

	res, err := newActioner(store.Changes, tunables, ActionFlags{General: true}, policies).Act(context.Background(), changes)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	assert.Equal(t, 1, res.Failed)

	stored, err := store.Changes.GetByID(context.Background(), changes[0].ID)
	require.NoError(t, err)
	assert.Contains(t, stored.CompatibilityCheck, "[POLICY-FAILED] CEL evaluation error")
	assert.Equal(t, stored.CompatibilityCheck, changes[0].CompatibilityCheck)

	_, err = os.Stat(tunables.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestJudgeForcesDeferOnHighRisk(t *testing.T) {
	for _, v := range []string{"approve", "reject", "defer"} {
		t.Run(v, func(t *testing.T) {
			store := repository.NewMemoryStore()
			_, changes := persisted(t, store, losingMomentum())
			judge := NewJudge(&fakeReasoning{judge: verdict(v, "high")}, store.Changes, false, logger.Discard())

			_, err := judge.Judge(context.Background(), changes, nil)
			require.NoError(t, err)

			for _, c := range changes {
				stored, err := store.Changes.GetByID(context.Background(), c.ID)
				require.NoError(t, err)
				require.NotNil(t, stored.Verdict)
				assert.NotEqual(t, models.VerdictApprove, *stored.Verdict)
			}
		})
	}
}

func TestJudgeHighRiskAutoApproval(t *testing.T) {
	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, losingMomentum())
	judge := NewJudge(&fakeReasoning{judge: verdict("approve", "high")}, store.Changes, true, logger.Discard())

	res, err := judge.Judge(context.Background(), changes, nil)
	require.NoError(t, err)
	assert.Equal(t, len(changes), res.Approve)
}

func TestJudgeLeavesFailuresUnjudged(t *testing.T) {
	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, losingMomentum())
	fake := &fakeReasoning{judge: func(reasoning.ChangeContext) (*reasoning.Judgement, error) {
		return nil, reasoning.ErrMalformedResponse
	}}

	res, err := NewJudge(fake, store.Changes, false, logger.Discard()).Judge(context.Background(), changes, nil)
	require.NoError(t, err)
	assert.Equal(t, len(changes), res.Failed)

	for _, c := range changes {
		stored, err := store.Changes.GetByID(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.Verdict)
	}
}

func TestJudgeRejectsOutOfRangeConfidence(t *testing.T) {
	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, feeDrag())
	fake := &fakeReasoning{judge: func(reasoning.ChangeContext) (*reasoning.Judgement, error) {
		return &reasoning.Judgement{Verdict: "approve", Confidence: 1.5, RiskScore: "low"}, nil
	}}

	res, err := NewJudge(fake, store.Changes, false, logger.Discard()).Judge(context.Background(), changes, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Approve)
}

func TestJudgeSkipsJudgedChanges(t *testing.T) {
	store := repository.NewMemoryStore()
	_, changes := persisted(t, store, feeDrag())
	fake := &fakeReasoning{judge: verdict("defer", "low")}
	judge := NewJudge(fake, store.Changes, false, logger.Discard())

	_, err := judge.Judge(context.Background(), changes, nil)
	require.NoError(t, err)
	_, err = judge.Judge(context.Background(), changes, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
}

func approvedChanges(t *testing.T, store *repository.MemoryStore, trades []*models.Trade) (*models.Run, []*models.Change) {
	t.Helper()
	run, changes := persisted(t, store, trades)
	_, err := NewJudge(&fakeReasoning{judge: verdict("approve", "low")}, store.Changes, false, logger.Discard()).
		Judge(context.Background(), changes, nil)
	require.NoError(t, err)
	return run, changes
}

func newImplementer(store *repository.MemoryStore, svc reasoning.Service, ws Workspace, enabled bool) *Implementer {
	return NewImplementer(&ImplementerOpts{
		Reasoning:     svc,
		Changes:       store.Changes,
		Workspace:     ws,
		AutoImplement: enabled,
		TestCommand:   "go test ./...",
		TestTimeout:   time.Minute,
		Logger:        logger.Discard(),
	})
}

func TestImplementerSkipsWhenDisabled(t *testing.T) {
	store := repository.NewMemoryStore()
	run, changes := approvedChanges(t, store, feeDrag())
	ws := passingWorkspace()

	res, err := newImplementer(store, &fakeReasoning{patch: samplePatch}, ws, false).Implement(context.Background(), run, changes)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, ws.opened)

	stored, err := store.Changes.GetByID(context.Background(), changes[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ImplementationOutcome)
	assert.Equal(t, models.OutcomeSkipped, *stored.ImplementationOutcome)
}

func TestImplementerPatchGenerationFailureCreatesNoBranch(t *testing.T) {
	store := repository.NewMemoryStore()
	run, changes := approvedChanges(t, store, feeDrag())
	ws := passingWorkspace()

	res, err := newImplementer(store, &fakeReasoning{patchErr: reasoning.ErrEmptyPatch}, ws, true).Implement(context.Background(), run, changes)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, ws.opened)

	stored, err := store.Changes.GetByID(context.Background(), changes[0].ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ImplementationBranch)
	assert.Contains(t, stored.CompatibilityCheck, "[IMPL-FAILED] patch generation")
}

func TestImplementerApplyConflictKeepsBranch(t *testing.T) {
	store := repository.NewMemoryStore()
	run, changes := approvedChanges(t, store, feeDrag())
	ws := passingWorkspace()
	ws.applyErr = errors.Join(gitrepo.ErrApplyConflict, errors.New("x.go: patch does not apply"))

	res, err := newImplementer(store, &fakeReasoning{patch: samplePatch}, ws, true).Implement(context.Background(), run, changes)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, ws.checkout.closed)
	assert.Zero(t, ws.checkout.commits)

	stored, err := store.Changes.GetByID(context.Background(), changes[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ImplementationBranch)
	assert.Equal(t, BranchName(run), *stored.ImplementationBranch)
	assert.Nil(t, stored.ImplementationCommit)
	assert.Contains(t, stored.CompatibilityCheck, "branch kept for inspection")
}
