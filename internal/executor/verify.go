package executor

import (
	"context"
	"time"

	"bobchad/internal/logging"
	"bobchad/internal/tools/shell"
)

// Verifier checks the tree after a codemod is written.
type Verifier interface {
	Verify(ctx context.Context) error
}

// CommandVerifier runs a shell command in the project root; a non-zero
// exit fails verification.
type CommandVerifier struct {
	Dir     string
	Command string
	Timeout time.Duration
}

// Verify runs the command.
func (v *CommandVerifier) Verify(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryExecutor, "verify")
	defer timer.Stop()

	res, err := shell.RunShell(ctx, v.Dir, v.Timeout, v.Command)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &VerificationError{Command: v.Command, ExitCode: res.ExitCode, Output: res.Combined()}
	}
	return nil
}
