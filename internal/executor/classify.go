package executor

import (
	"errors"
	"fmt"

	"bobchad/internal/codemod"
	"bobchad/internal/history"
	"bobchad/internal/jail"
	"bobchad/internal/plan"
	"bobchad/internal/tools"
)

// VerificationError reports a failed post-edit verification command.
type VerificationError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification %q failed with exit code %d", e.Command, e.ExitCode)
}

// Classify converts an execution or routing error into the failure detail
// stored in history.
func Classify(err error) *history.Failure {
	if err == nil {
		return nil
	}

	var (
		ve  *plan.ValidationError
		jv  *jail.ViolationError
		te  *tools.ToolError
		ce  *codemod.Error
		ver *VerificationError
	)
	switch {
	case errors.As(err, &ve):
		return &history.Failure{Kind: history.FailureValidation, Code: string(ve.Kind), Path: ve.Path, Rule: ve.Rule, Detail: err.Error()}
	case errors.As(err, &jv):
		return &history.Failure{Kind: history.FailureJail, Code: "JailViolation", Path: jv.Path, Detail: err.Error()}
	case errors.Is(err, jail.ErrJailViolation), errors.Is(err, jail.ErrInvalidPath):
		return &history.Failure{Kind: history.FailureJail, Code: "JailViolation", Detail: err.Error()}
	case errors.As(err, &te):
		return &history.Failure{Kind: history.FailureTool, Code: string(te.Kind), Detail: err.Error()}
	case errors.As(err, &ce):
		return &history.Failure{Kind: history.FailureCodemod, Code: string(ce.Kind), Path: ce.Path, Detail: err.Error()}
	case errors.As(err, &ver):
		return &history.Failure{Kind: history.FailureVerification, Code: fmt.Sprintf("exit-%d", ver.ExitCode), Detail: err.Error() + "\n" + ver.Output}
	}
	return &history.Failure{Kind: history.FailureInternal, Detail: err.Error()}
}
