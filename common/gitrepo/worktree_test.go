package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bumpPatch = `diff --git a/value.txt b/value.txt
--- a/value.txt
+++ b/value.txt
@@ -1 +1 @@
-1
+2
`

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@localhost",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@localhost",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

func newRepo(t *testing.T) (*Manager, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := t.TempDir()
	git(t, repo, "init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "value.txt"), []byte("1\n"), 0o644))
	git(t, repo, "add", "value.txt")
	git(t, repo, "commit", "-q", "-m", "init")

	return NewManager(repo, filepath.Join(t.TempDir(), "wt"), "HEAD"), repo
}

func TestApplyCommitAndTestPass(t *testing.T) {
	m, repo := newRepo(t)
	ctx := context.Background()

	wt, err := m.Open(ctx, "seed-improver/auto-aaaa1111")
	require.NoError(t, err)

	base, err := wt.Head(ctx)
	require.NoError(t, err)

	sha, err := wt.ApplyAndCommit(ctx, bumpPatch, "raise value")
	require.NoError(t, err)
	assert.NotEqual(t, base, sha)

	res, err := wt.RunTests(ctx, "grep -q 2 value.txt", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	files, err := m.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"value.txt"}, files)

	require.NoError(t, m.Remove(ctx, wt))
	_, err = os.Stat(wt.Path)
	assert.True(t, os.IsNotExist(err))

	// branch survives worktree removal
	assert.Equal(t, sha, git(t, repo, "rev-parse", "seed-improver/auto-aaaa1111"))
}

func TestFailedTestsRevertToPrePatchTree(t *testing.T) {
	m, _ := newRepo(t)
	ctx := context.Background()

	wt, err := m.Open(ctx, "seed-improver/auto-bbbb2222")
	require.NoError(t, err)
	defer m.Remove(ctx, wt)

	pre, err := wt.Head(ctx)
	require.NoError(t, err)
	preTree, err := headTree(ctx, wt)
	require.NoError(t, err)

	_, err = wt.ApplyAndCommit(ctx, bumpPatch, "raise value")
	require.NoError(t, err)

	res, err := wt.RunTests(ctx, "echo 'FAIL: TestValue'; touch stray.tmp; exit 3", time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "FAIL: TestValue")

	require.NoError(t, wt.ResetTo(ctx, pre))

	head, err := wt.Head(ctx)
	require.NoError(t, err)
	tree, err := headTree(ctx, wt)
	require.NoError(t, err)
	clean, err := wt.Clean(ctx)
	require.NoError(t, err)

	assert.Equal(t, pre, head)
	assert.Equal(t, preTree, tree)
	assert.True(t, clean)
}

func TestApplyConflictLeavesCheckoutClean(t *testing.T) {
	m, _ := newRepo(t)
	ctx := context.Background()

	wt, err := m.Open(ctx, "seed-improver/auto-cccc3333")
	require.NoError(t, err)
	defer m.Remove(ctx, wt)

	pre, err := wt.Head(ctx)
	require.NoError(t, err)

	conflicting := strings.Replace(bumpPatch, "-1\n", "-7\n", 1)
	_, err = wt.ApplyAndCommit(ctx, conflicting, "bad")
	assert.ErrorIs(t, err, ErrApplyConflict)

	head, _ := wt.Head(ctx)
	clean, _ := wt.Clean(ctx)
	assert.Equal(t, pre, head)
	assert.True(t, clean)
}

func TestRunTestsTimeout(t *testing.T) {
	m, _ := newRepo(t)
	ctx := context.Background()

	wt, err := m.Open(ctx, "seed-improver/auto-dddd4444")
	require.NoError(t, err)
	defer m.Remove(ctx, wt)

	res, err := wt.RunTests(ctx, "sleep 5", 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.Output, "timed out")
}

func TestListWorktrees(t *testing.T) {
	m, _ := newRepo(t)
	ctx := context.Background()

	wt, err := m.Open(ctx, "seed-improver/auto-eeee5555")
	require.NoError(t, err)

	paths, err := listWorktrees(ctx, m)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	require.NoError(t, m.Remove(ctx, wt))
	paths, err = listWorktrees(ctx, m)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", Tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", Tail("a", 5))
}

func headTree(ctx context.Context, w *Worktree) (string, error) {
	out, err := run(ctx, w.Path, nil, "git", "rev-parse", "HEAD^{tree}")
	return strings.TrimSpace(out), err
}

// listWorktrees returns the active worktree paths under the manager's directory
func listWorktrees(ctx context.Context, m *Manager) ([]string, error) {
	out, err := run(ctx, m.repoDir, nil, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range splitLines(out) {
		if path, ok := strings.CutPrefix(line, "worktree "); ok && strings.HasPrefix(path, m.worktreeDir) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}
