package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/bootstrap"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/lyzr/seed-improver/common/policy"
	"github.com/lyzr/seed-improver/common/reasoning"
	"github.com/lyzr/seed-improver/common/validation"
)

// ErrInvalidTrigger is returned for an unknown trigger type
var ErrInvalidTrigger = errors.New("invalid trigger type")

// PhaseError is an orchestration fault raised inside a phase. It aborts the run.
type PhaseError struct {
	Phase int
	Name  string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("Phase %d (%s) failed: %v", e.Phase, e.Name, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// RunRequest starts one pipeline run
type RunRequest struct {
	Trigger models.TriggerType
	Pair    string
	Async   bool // return once the run row exists; phases continue in the background
}

// RunResult is the durable outcome of a run. For async requests it is the
// state at acceptance.
type RunResult struct {
	Run     *models.Run
	Changes []*models.Change
	Err     error // orchestration fault that failed the run, if any
}

// Runner executes pipeline runs
type Runner interface {
	Execute(ctx context.Context, req RunRequest) (*RunResult, error)
}

// ImproverService orchestrates phases 0 through 6
type ImproverService struct {
	stores      Stores
	auditor     *Auditor
	recommender *Recommender
	learner     *PatternLearner
	actioner    *Actioner
	evaluator   *Evaluator
	judge       *Judge
	implementer *Implementer
	events      RunEvents
	components  *bootstrap.Components
	sampleSize  int
	runTimeout  time.Duration
	wg          sync.WaitGroup
	now         func() time.Time
}

// ImproverServiceOpts contains options for creating an ImproverService
type ImproverServiceOpts struct {
	Stores     Stores
	Components *bootstrap.Components
	Reasoning  reasoning.Service // nil disables phases 5 and 6
	Workspace  Workspace
	Tunables   *TunablesFile
	Policies   *policy.Store
	Events     RunEvents // optional
}

// NewImproverService wires the phases from configuration
func NewImproverService(opts *ImproverServiceOpts) *ImproverService {
	cfg := opts.Components.Config
	log := opts.Components.Logger

	return &ImproverService{
		stores:      opts.Stores,
		auditor:     NewAuditor(cfg.Improver.GapWindow),
		recommender: NewRecommender(cfg.Improver.MinGroupTrades),
		learner:     NewPatternLearner(opts.Stores.Patterns, opts.Stores.Changes, log),
		actioner: NewActioner(&ActionerOpts{
			Changes:   opts.Stores.Changes,
			Tunables:  opts.Tunables,
			Validator: validation.NewPatchValidator(cfg.Improver.AllowedPatchPaths),
			Policies:  opts.Policies,
			Flags: ActionFlags{
				General:  cfg.Features.GeneralAutoApply,
				Strategy: cfg.Features.StrategyAutoApply,
			},
			Logger: log,
		}),
		evaluator: NewEvaluator(opts.Stores.Runs, cfg.Improver.PriorRuns),
		judge:     NewJudge(opts.Reasoning, opts.Stores.Changes, cfg.Features.HighRiskAutoApproval, log),
		implementer: NewImplementer(&ImplementerOpts{
			Reasoning:     opts.Reasoning,
			Changes:       opts.Stores.Changes,
			Workspace:     opts.Workspace,
			AutoImplement: cfg.Features.AutoImplement,
			TestCommand:   cfg.Improver.TestCommand,
			TestTimeout:   cfg.Improver.TestTimeout,
			Logger:        log,
		}),
		events:     opts.Events,
		components: opts.Components,
		sampleSize: cfg.Improver.SampleSize,
		runTimeout: cfg.Improver.RunTimeout,
		now:        time.Now,
	}
}

// runState carries phase outputs through a single run
type runState struct {
	run      *models.Run
	log      *logger.Logger
	trades   []*models.Trade
	audit    AuditResult
	changes  []*models.Change
	seen     map[uuid.UUID]int64
	counters models.RunCounters
	notes    []string
	done     int // phases completed
}

// Execute creates a run and drives it to a terminal status. Phase faults
// are reported in the result, not as an error; err is non-nil only when the
// run could not be created.
func (s *ImproverService) Execute(ctx context.Context, req RunRequest) (*RunResult, error) {
	if !req.Trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, req.Trigger)
	}

	run := &models.Run{
		RunID:       uuid.New(),
		TriggerType: req.Trigger,
		Pair:        req.Pair,
		Status:      models.RunRunning,
		StartedAt:   s.now().UTC(),
		Summary:     "running",
	}
	if err := s.stores.Runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	log := s.components.Logger.WithRunID(run.RunID.String())
	log.Info("run started", "trigger", run.TriggerType, "pair", run.Pair, "async", req.Async)

	if req.Async {
		accepted := *run
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			runCtx, cancel := s.withRunTimeout(context.WithoutCancel(ctx))
			defer cancel()
			if _, err := s.process(runCtx, run, log); err != nil {
				log.Error("async run could not be finalized", "error", err)
			}
		}()
		return &RunResult{Run: &accepted}, nil
	}

	runCtx, cancel := s.withRunTimeout(ctx)
	defer cancel()
	return s.process(runCtx, run, log)
}

// Wait blocks until every background run has finished
func (s *ImproverService) Wait() {
	s.wg.Wait()
}

func (s *ImproverService) withRunTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.runTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.runTimeout)
}

func (s *ImproverService) process(ctx context.Context, run *models.Run, log *logger.Logger) (*RunResult, error) {
	st := &runState{run: run, log: log}
	faultErr := s.runPhases(ctx, st)

	status, summary, errText := models.RunCompleted, summarize(st), ""
	if faultErr != nil {
		status = models.RunFailed
		errText = faultErr.Error()
		summary = errText + ". " + summary
		log.Error("run failed", "error", faultErr)
	}

	finishCtx := context.WithoutCancel(ctx)
	if err := s.stores.Runs.Finish(finishCtx, run.RunID, status, summary, errText, st.counters, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to finish run %s: %w", run.RunID, err)
	}

	final, err := s.stores.Runs.GetByID(finishCtx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload run %s: %w", run.RunID, err)
	}
	changes, err := s.stores.Changes.ListByRun(finishCtx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload changes of run %s: %w", run.RunID, err)
	}

	if s.events != nil {
		if err := s.events.Publish(finishCtx, final); err != nil {
			log.Warn("failed to publish run event", "error", err)
		}
	}
	s.components.Telemetry.RecordEvent("run_finished", map[string]any{
		"run_id": run.RunID.String(),
		"status": string(status),
	})

	log.Info("run finished", "status", status, "summary", summary)
	return &RunResult{Run: final, Changes: changes, Err: faultErr}, nil
}

func (s *ImproverService) runPhases(ctx context.Context, st *runState) error {
	phases := []struct {
		name string
		fn   func(context.Context, *runState) error
	}{
		{"observability_audit", s.phaseAudit},
		{"recommendation_engine", s.phaseRecommend},
		{"pattern_learner", s.phaseLearn},
		{"controlled_actioner", s.phaseAct},
		{"evaluation_loop", s.phaseEvaluate},
		{"autonomous_judge", s.phaseJudge},
		{"auto_implementation", s.phaseImplement},
	}

	for n, p := range phases {
		if err := ctx.Err(); err != nil {
			return &PhaseError{Phase: n, Name: p.name, Err: err}
		}

		plog := st.log.WithPhase(n, p.name)
		plog.Info("phase started")
		start := time.Now()

		err := p.fn(ctx, st)
		s.components.Telemetry.RecordDuration(fmt.Sprintf("phase_%d_%s", n, p.name), start)
		if err != nil {
			return &PhaseError{Phase: n, Name: p.name, Err: err}
		}

		plog.Info("phase finished", "duration", time.Since(start))
		st.done = n + 1

		if err := s.stores.Runs.UpdateProgress(ctx, st.run.RunID, summarize(st), st.counters); err != nil {
			return &PhaseError{Phase: n, Name: p.name, Err: fmt.Errorf("failed to record progress: %w", err)}
		}
	}
	return nil
}

func (s *ImproverService) phaseAudit(ctx context.Context, st *runState) error {
	trades, err := s.stores.Trades.RecentTrades(ctx, models.TradeQuery{Pair: st.run.Pair, Limit: s.sampleSize})
	if err != nil {
		return fmt.Errorf("failed to load trades: %w", err)
	}
	st.trades = trades
	st.audit = s.auditor.Audit(trades)

	st.counters.TradesSampled = st.audit.TradesSampled
	st.counters.Gaps = st.audit.Gaps
	st.counters.Completeness = round2(st.audit.Completeness)
	st.counters.WinRate, st.counters.NetPnL = tradeBaseline(trades)

	if st.audit.Gaps > 0 {
		st.log.Warn("trade history incomplete, confidence downgraded",
			"gaps", st.audit.Gaps, "completeness", st.counters.Completeness)
	}
	return nil
}

func (s *ImproverService) phaseRecommend(ctx context.Context, st *runState) error {
	changes := s.recommender.Recommend(st.run.RunID, st.trades, st.audit)
	for _, c := range changes {
		if err := s.stores.Changes.Create(ctx, c); err != nil {
			return fmt.Errorf("failed to persist recommendation: %w", err)
		}
	}
	st.changes = changes
	st.counters.Recommendations = len(changes)
	return nil
}

func (s *ImproverService) phaseLearn(ctx context.Context, st *runState) error {
	res, err := s.learner.Learn(ctx, st.changes)
	if err != nil {
		return err
	}
	st.seen = res.SeenCount
	st.counters.PatternUpdates = res.Touched
	return nil
}

func (s *ImproverService) phaseAct(ctx context.Context, st *runState) error {
	res, err := s.actioner.Act(ctx, st.changes)
	if err != nil {
		return err
	}
	st.counters.AutoApplied = res.Applied
	if res.Failed > 0 {
		st.notes = append(st.notes, fmt.Sprintf("auto-apply: %d failed to apply", res.Failed))
	}
	return nil
}

func (s *ImproverService) phaseEvaluate(ctx context.Context, st *runState) error {
	ev, err := s.evaluator.Evaluate(ctx, st.run, st.counters)
	if err != nil {
		return err
	}
	st.notes = append(st.notes, ev.Note())
	return nil
}

func (s *ImproverService) phaseJudge(ctx context.Context, st *runState) error {
	res, err := s.judge.Judge(ctx, st.changes, st.seen)
	if err != nil {
		return err
	}
	if res.Skipped {
		if len(st.changes) > 0 {
			st.notes = append(st.notes, "judge: skipped (no reasoning credential)")
		}
		return nil
	}
	st.counters.VerdictApprove = res.Approve
	st.counters.VerdictReject = res.Reject
	st.counters.VerdictDefer = res.Defer
	if res.Failed > 0 {
		st.notes = append(st.notes, fmt.Sprintf("judge: %d change(s) left unjudged after reasoning service failure", res.Failed))
	}
	return nil
}

func (s *ImproverService) phaseImplement(ctx context.Context, st *runState) error {
	res, err := s.implementer.Implement(ctx, st.run, st.changes)
	if err != nil {
		return err
	}
	st.counters.Implemented = res.Implemented
	st.counters.ImplFailed = res.Failed
	st.counters.ImplSkipped = res.Skipped
	if res.Branch != "" && res.Implemented+res.Failed > 0 {
		st.notes = append(st.notes, "implement: branch "+res.Branch)
	}
	return nil
}

func summarize(st *runState) string {
	c := st.counters
	head := "No phases complete."
	if st.done > 0 {
		head = fmt.Sprintf("Phases 0–%d complete.", st.done-1)
	}
	base := fmt.Sprintf("%s trades_sampled=%d, gaps=%d, recommendations=%d, pattern_updates=%d, auto_applied=%d, verdicts(approve=%d, reject=%d, defer=%d), implementations(implemented=%d, failed=%d, skipped=%d).",
		head, c.TradesSampled, c.Gaps, c.Recommendations, c.PatternUpdates, c.AutoApplied,
		c.VerdictApprove, c.VerdictReject, c.VerdictDefer,
		c.Implemented, c.ImplFailed, c.ImplSkipped)
	if len(st.notes) == 0 {
		return base
	}
	return base + " " + joinNotes(st.notes)
}
