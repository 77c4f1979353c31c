package tools

import (
	"errors"
	"fmt"
)

// Tool registry errors.
var (
	// ErrToolNotFound is returned when a tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolExecuteNil is returned when a tool has no execute function.
	ErrToolExecuteNil = errors.New("tool execute function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("tool registry is sealed")

	// ErrUnknownSideEffect is returned for a tool without a valid side-effect class.
	ErrUnknownSideEffect = errors.New("unknown side-effect class")

	// ErrMissingRequiredArg is returned when a required argument is missing.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrInvalidArgType is returned when an argument has the wrong type.
	ErrInvalidArgType = errors.New("invalid argument type")

	// ErrUnknownArg is returned for an argument the schema does not declare.
	ErrUnknownArg = errors.New("unknown argument")

	// ErrTimeout is returned by handlers that ran out of time.
	ErrTimeout = errors.New("tool timed out")
)

// ErrorKind classifies a ToolError.
type ErrorKind string

const (
	KindNotFound      ErrorKind = "NotFound"
	KindInvalidArgs   ErrorKind = "InvalidArgs"
	KindTimeout       ErrorKind = "Timeout"
	KindHandlerFailed ErrorKind = "HandlerFailed"
)

// ToolError is the failure type returned by Registry.Invoke.
type ToolError struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
