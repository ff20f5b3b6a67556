package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TestResult is the outcome of one test command run
type TestResult struct {
	Passed   bool
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// RunTests runs command through sh -c inside the checkout.
// A non-zero exit or a timeout is a failed result, not an error; err is
// reserved for commands that could not be started.
func (w *Worktree) RunTests(ctx context.Context, command string, timeout time.Duration) (*TestResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = w.Path
	cmd.WaitDelay = 5 * time.Second

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	result := &TestResult{Output: buf.String(), Duration: time.Since(start)}

	if err == nil {
		result.Passed = true
		return result, nil
	}

	if ctx.Err() != nil {
		result.TimedOut = true
		result.ExitCode = -1
		result.Output += fmt.Sprintf("\ntest command timed out after %s", timeout)
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return nil, fmt.Errorf("running tests: %w", err)
}

// Tail returns at most the last n lines of output
func Tail(output string, n int) string {
	output = strings.TrimRight(output, "\n")
	lines := strings.Split(output, "\n")
	if len(lines) <= n {
		return output
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
