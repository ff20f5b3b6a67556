package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/cmd/seed-improver/repository"
)

// Evaluation is the Phase 4 comparison against prior completed runs
type Evaluation struct {
	PriorRuns            int
	WinRateDelta         float64
	NetPnLDelta          float64
	RecommendationsDelta float64
	PriorApprove         int
	PriorDefer           int
}

// Note renders the evaluation for the run summary
func (e *Evaluation) Note() string {
	if e.PriorRuns == 0 {
		return "eval: no prior completed runs"
	}
	return fmt.Sprintf("eval vs %d prior: win_rate %+.2f, net_pnl %+.2f, recommendations %+.1f, prior verdicts(approve=%d, defer=%d)",
		e.PriorRuns, e.WinRateDelta, e.NetPnLDelta, e.RecommendationsDelta, e.PriorApprove, e.PriorDefer)
}

// Evaluator compares the current run's baseline with recent completed runs. Read-only.
type Evaluator struct {
	runs      RunStore
	priorRuns int
}

// NewEvaluator creates a new evaluator looking back priorRuns completed runs
func NewEvaluator(runs RunStore, priorRuns int) *Evaluator {
	return &Evaluator{runs: runs, priorRuns: priorRuns}
}

// Evaluate computes deltas of the current counters against the mean of prior runs
func (e *Evaluator) Evaluate(ctx context.Context, run *models.Run, current models.RunCounters) (*Evaluation, error) {
	ev := &Evaluation{}
	if e.priorRuns == 0 {
		return ev, nil
	}

	before := run.StartedAt
	prior, err := e.runs.List(ctx, repository.RunFilter{
		Status:        models.RunCompleted,
		StartedBefore: &before,
		Limit:         e.priorRuns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load prior runs: %w", err)
	}

	var winRate, net, recs float64
	for _, p := range prior {
		if p.RunID == run.RunID {
			continue
		}
		ev.PriorRuns++
		winRate += p.Counters.WinRate
		net += p.Counters.NetPnL
		recs += float64(p.Counters.Recommendations)
		ev.PriorApprove += p.Counters.VerdictApprove
		ev.PriorDefer += p.Counters.VerdictDefer
	}
	if ev.PriorRuns == 0 {
		return ev, nil
	}

	n := float64(ev.PriorRuns)
	ev.WinRateDelta = round2(current.WinRate - winRate/n)
	ev.NetPnLDelta = round2(current.NetPnL - net/n)
	ev.RecommendationsDelta = float64(current.Recommendations) - recs/n
	return ev, nil
}

// tradeBaseline computes win rate and net pnl of the sampled window
func tradeBaseline(trades []*models.Trade) (winRate, net float64) {
	closed, wins := 0, 0
	for _, t := range trades {
		if t.PnL == nil {
			continue
		}
		closed++
		net += *t.PnL
		if *t.PnL > 0 {
			wins++
		}
	}
	if closed == 0 {
		return 0, round2(net)
	}
	return round2(float64(wins) / float64(closed)), round2(net)
}

func joinNotes(notes []string) string {
	return strings.Join(notes, "; ")
}
