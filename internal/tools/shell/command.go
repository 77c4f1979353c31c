package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"bobchad/internal/tools"
)

// maxOutput caps captured output.
const maxOutput = 50000

// CommandResult is the outcome of a finished process.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined renders exit code and both streams.
func (r CommandResult) Combined() string {
	return fmt.Sprintf("Exit code: %d\n\nSTDOUT:\n%s\n\nSTDERR:\n%s", r.ExitCode, r.Stdout, r.Stderr)
}

// Run executes name with args in dir under a timeout.
// A non-zero exit is not an error; a timeout returns tools.ErrTimeout.
func Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) (CommandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: truncate(stdout.String()),
		Stderr: truncate(stderr.String()),
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("%w: %s after %v", tools.ErrTimeout, name, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("command failed: %w", err)
	}
	return result, nil
}

// RunShell executes a shell command line in dir.
func RunShell(ctx context.Context, dir string, timeout time.Duration, command string) (CommandResult, error) {
	if runtime.GOOS == "windows" {
		return Run(ctx, dir, timeout, "cmd", "/C", command)
	}
	return Run(ctx, dir, timeout, "sh", "-c", command)
}

func truncate(s string) string {
	if len(s) > maxOutput {
		return s[:maxOutput] + "\n...[truncated]"
	}
	return s
}
