package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/common/gitrepo"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/lyzr/seed-improver/common/reasoning"
)

const testTailLines = 40

// Workspace hands out isolated checkouts of the target repository
type Workspace interface {
	TrackedFiles(ctx context.Context) ([]string, error)
	Open(ctx context.Context, branch string) (Checkout, error)
}

// Checkout is one branch checkout owned by a single run
type Checkout interface {
	Head(ctx context.Context) (string, error)
	ApplyAndCommit(ctx context.Context, diff, message string) (string, error)
	ResetTo(ctx context.Context, sha string) error
	Clean(ctx context.Context) (bool, error)
	RunTests(ctx context.Context, command string, timeout time.Duration) (*gitrepo.TestResult, error)
	Close(ctx context.Context) error
}

// GitWorkspace adapts a gitrepo.Manager
type GitWorkspace struct {
	m *gitrepo.Manager
}

// NewGitWorkspace creates a workspace backed by git worktrees
func NewGitWorkspace(m *gitrepo.Manager) *GitWorkspace {
	return &GitWorkspace{m: m}
}

// TrackedFiles lists files of the base ref
func (g *GitWorkspace) TrackedFiles(ctx context.Context) ([]string, error) {
	return g.m.ListFiles(ctx)
}

// Open creates a worktree on branch
func (g *GitWorkspace) Open(ctx context.Context, branch string) (Checkout, error) {
	wt, err := g.m.Open(ctx, branch)
	if err != nil {
		return nil, err
	}
	return &gitCheckout{Worktree: wt, m: g.m}, nil
}

type gitCheckout struct {
	*gitrepo.Worktree
	m *gitrepo.Manager
}

func (c *gitCheckout) Close(ctx context.Context) error {
	return c.m.Remove(ctx, c.Worktree)
}

// ImplementResult tallies Phase 6 outcomes
type ImplementResult struct {
	Branch      string
	Implemented int
	Failed      int
	Skipped     int
}

// Implementer turns approved changes into tested commits on a per-run branch
type Implementer struct {
	svc         reasoning.Service
	changes     ChangeStore
	workspace   Workspace
	enabled     bool
	testCommand string
	testTimeout time.Duration
	log         *logger.Logger
}

// ImplementerOpts contains options for creating an Implementer
type ImplementerOpts struct {
	Reasoning     reasoning.Service
	Changes       ChangeStore
	Workspace     Workspace
	AutoImplement bool
	TestCommand   string
	TestTimeout   time.Duration
	Logger        *logger.Logger
}

// NewImplementer creates a new implementer
func NewImplementer(opts *ImplementerOpts) *Implementer {
	return &Implementer{
		svc:         opts.Reasoning,
		changes:     opts.Changes,
		workspace:   opts.Workspace,
		enabled:     opts.AutoImplement,
		testCommand: opts.TestCommand,
		testTimeout: opts.TestTimeout,
		log:         opts.Logger,
	}
}

// Enabled reports whether auto-implementation runs at all
func (im *Implementer) Enabled() bool {
	return im.enabled && im.svc != nil && im.workspace != nil
}

// BranchName is the per-run implementation branch
func BranchName(run *models.Run) string {
	return "seed-improver/auto-" + run.ShortID()
}

// Implement processes approved changes in rank order. A failed outcome never
// leaves an untested commit on the branch.
func (im *Implementer) Implement(ctx context.Context, run *models.Run, changes []*models.Change) (*ImplementResult, error) {
	res := &ImplementResult{}

	var approved []*models.Change
	for _, c := range changes {
		if c.Approved() && c.ImplementationOutcome == nil {
			approved = append(approved, c)
		}
	}
	if len(approved) == 0 {
		return res, nil
	}

	if !im.Enabled() {
		for _, c := range approved {
			if err := im.record(ctx, c, models.Implementation{Outcome: models.OutcomeSkipped}); err != nil {
				return nil, err
			}
			res.Skipped++
		}
		return res, nil
	}

	res.Branch = BranchName(run)
	files, err := im.workspace.TrackedFiles(ctx)
	if err != nil {
		im.log.Warn("listing tracked files failed, generating patches without file list", "error", err)
	}

	var checkout Checkout
	defer func() {
		if checkout == nil {
			return
		}
		if err := checkout.Close(context.WithoutCancel(ctx)); err != nil {
			im.log.Warn("failed to remove worktree", "branch", res.Branch, "error", err)
		}
	}()

	for _, c := range approved {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("implementation interrupted: %w", err)
		}
		log := im.log.WithChangeID(c.ID.String())

		diff, err := im.svc.GeneratePatch(ctx, reasoning.PatchRequest{Change: changeContext(c, 0), Files: files})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("implementation interrupted: %w", ctx.Err())
			}
			log.Warn("patch generation failed", "error", err)
			if err := im.fail(ctx, c, "", "[IMPL-FAILED] patch generation: "+err.Error(), res); err != nil {
				return nil, err
			}
			continue
		}

		if checkout == nil {
			checkout, err = im.workspace.Open(ctx, res.Branch)
			if err != nil {
				checkout = nil
				log.Warn("branch creation failed", "branch", res.Branch, "error", err)
				if err := im.fail(ctx, c, "", "[IMPL-FAILED] branch creation: "+err.Error(), res); err != nil {
					return nil, err
				}
				continue
			}
		}

		pre, err := checkout.Head(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read branch head: %w", err)
		}

		sha, err := checkout.ApplyAndCommit(ctx, diff, commitMessage(run, c))
		if err != nil {
			detail := "[IMPL-FAILED] commit: " + err.Error()
			if errors.Is(err, gitrepo.ErrApplyConflict) {
				detail = "[IMPL-FAILED] patch does not apply (branch kept for inspection): " + err.Error()
			}
			log.Warn("patch apply failed", "branch", res.Branch, "error", err)
			if err := im.fail(ctx, c, res.Branch, detail, res); err != nil {
				return nil, err
			}
			continue
		}

		result, err := checkout.RunTests(ctx, im.testCommand, im.testTimeout)
		if err == nil && result.Passed {
			log.Info("change implemented", "branch", res.Branch, "commit", sha, "duration", result.Duration)
			if err := im.record(ctx, c, models.Implementation{
				Outcome: models.OutcomeImplemented,
				Branch:  res.Branch,
				Commit:  sha,
			}); err != nil {
				return nil, err
			}
			res.Implemented++
			continue
		}

		if err := revert(context.WithoutCancel(ctx), checkout, pre); err != nil {
			return nil, fmt.Errorf("failed to revert %s to %s: %w", res.Branch, pre, err)
		}

		var detail string
		if err != nil {
			detail = "[TESTS-FAILED] could not run tests: " + err.Error()
		} else {
			detail = fmt.Sprintf("[TESTS-FAILED] exit %d\n%s", result.ExitCode, gitrepo.Tail(result.Output, testTailLines))
		}
		log.Warn("tests failed, commit reverted", "branch", res.Branch, "reverted_to", pre)
		if err := im.fail(ctx, c, res.Branch, detail, res); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// revert resets checkout to pre and confirms nothing from the patch or the
// test run survived
func revert(ctx context.Context, checkout Checkout, pre string) error {
	if err := checkout.ResetTo(ctx, pre); err != nil {
		return err
	}
	clean, err := checkout.Clean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		return errors.New("checkout still has changes after reset")
	}
	return nil
}

func (im *Implementer) fail(ctx context.Context, c *models.Change, branch, detail string, res *ImplementResult) error {
	if err := im.record(ctx, c, models.Implementation{
		Outcome: models.OutcomeFailed,
		Branch:  branch,
		Detail:  detail,
	}); err != nil {
		return err
	}
	res.Failed++
	return nil
}

func (im *Implementer) record(ctx context.Context, c *models.Change, impl models.Implementation) error {
	if err := im.changes.SetImplementation(context.WithoutCancel(ctx), c.ID, impl); err != nil {
		return fmt.Errorf("failed to record implementation for %s: %w", c.ID, err)
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
	if impl.Detail != "" {
		c.CompatibilityCheck = appendCheck(c.CompatibilityCheck, impl.Detail)
	}
	return nil
}

func commitMessage(run *models.Run, c *models.Change) string {
	return fmt.Sprintf("seed-improver: %s\n\nrun: %s\nchange: %s\npriority: %s", c.ChangeSummary, run.RunID, c.ID, c.Priority)
}
