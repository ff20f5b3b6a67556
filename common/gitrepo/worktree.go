// Package gitrepo materializes patches on isolated git worktrees.
package gitrepo

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// ErrApplyConflict is returned when a patch does not apply cleanly
var ErrApplyConflict = errors.New("patch does not apply")

const (
	commitName  = "seed-improver"
	commitEmail = "seed-improver@localhost"
)

// Manager creates and removes worktrees of one repository.
// Worktree add/remove touch shared .git metadata and are serialized; work
// inside a checkout is isolated by its branch.
type Manager struct {
	repoDir     string
	worktreeDir string
	baseRef     string

	mu sync.Mutex
}

// NewManager creates a new Manager
func NewManager(repoDir, worktreeDir, baseRef string) *Manager {
	if baseRef == "" {
		baseRef = "HEAD"
	}
	return &Manager{
		repoDir:     repoDir,
		worktreeDir: worktreeDir,
		baseRef:     baseRef,
	}
}

// Worktree is one checkout on its own branch
type Worktree struct {
	Path   string
	Branch string

	m *Manager
}

// Open creates a worktree on a new branch cut from the base ref
func (m *Manager) Open(ctx context.Context, branch string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.worktreeDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating worktree dir: %w", err)
	}

	// stale entries from crashed runs
	_, _ = run(ctx, m.repoDir, nil, "git", "worktree", "prune")

	dirName := strings.ReplaceAll(branch, "/", "-") + "-" + randomSuffix()
	wtPath := filepath.Join(m.worktreeDir, dirName)

	if out, err := run(ctx, m.repoDir, nil, "git", "worktree", "add", "-b", branch, wtPath, m.baseRef); err != nil {
		return nil, fmt.Errorf("git worktree add: %s: %w", out, err)
	}

	return &Worktree{Path: wtPath, Branch: branch, m: m}, nil
}

// Remove deletes the worktree directory. The branch is kept for inspection.
func (m *Manager) Remove(ctx context.Context, wt *Worktree) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if out, err := run(ctx, m.repoDir, nil, "git", "worktree", "remove", "--force", wt.Path); err != nil {
		return fmt.Errorf("git worktree remove: %s: %w", out, err)
	}
	return nil
}

// ListFiles returns the files tracked at the base ref
func (m *Manager) ListFiles(ctx context.Context) ([]string, error) {
	out, err := run(ctx, m.repoDir, nil, "git", "ls-tree", "-r", "--name-only", m.baseRef)
	if err != nil {
		return nil, fmt.Errorf("git ls-tree: %s: %w", out, err)
	}
	return splitLines(out), nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Head returns the commit the worktree is on
func (w *Worktree) Head(ctx context.Context) (string, error) {
	out, err := run(ctx, w.Path, nil, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %s: %w", out, err)
	}
	return strings.TrimSpace(out), nil
}

// Clean reports whether the worktree has no staged, unstaged or untracked changes
func (w *Worktree) Clean(ctx context.Context) (bool, error) {
	out, err := run(ctx, w.Path, nil, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %s: %w", out, err)
	}
	return strings.TrimSpace(out) == "", nil
}

// ApplyAndCommit applies a unified diff to the index and commits it.
// On any failure the checkout is reset to HEAD so nothing half-applied remains.
func (w *Worktree) ApplyAndCommit(ctx context.Context, diff, message string) (string, error) {
	if out, err := run(ctx, w.Path, strings.NewReader(diff), "git", "apply", "--index", "--whitespace=nowarn", "-"); err != nil {
		w.discard(ctx)
		return "", fmt.Errorf("%w: %s", ErrApplyConflict, strings.TrimSpace(out))
	}

	out, err := run(ctx, w.Path, nil, "git",
		"-c", "user.name="+commitName,
		"-c", "user.email="+commitEmail,
		"commit", "--no-verify", "-m", message)
	if err != nil {
		w.discard(ctx)
		return "", fmt.Errorf("git commit: %s: %w", out, err)
	}

	return w.Head(ctx)
}

// ResetTo moves the branch back to sha and removes untracked files
func (w *Worktree) ResetTo(ctx context.Context, sha string) error {
	if out, err := run(ctx, w.Path, nil, "git", "reset", "--hard", sha); err != nil {
		return fmt.Errorf("git reset: %s: %w", out, err)
	}
	if out, err := run(ctx, w.Path, nil, "git", "clean", "-fd"); err != nil {
		return fmt.Errorf("git clean: %s: %w", out, err)
	}
	return nil
}

func (w *Worktree) discard(ctx context.Context) {
	_, _ = run(context.WithoutCancel(ctx), w.Path, nil, "git", "reset", "--hard", "HEAD")
	_, _ = run(context.WithoutCancel(ctx), w.Path, nil, "git", "clean", "-fd")
}

func run(ctx context.Context, dir string, stdin *strings.Reader, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

func randomSuffix() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
