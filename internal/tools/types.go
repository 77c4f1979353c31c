// Package tools is the registry of named operations the executor may invoke.
//
// Each Tool declares its argument schema, its side-effect class and the
// arguments that carry filesystem paths. The registry validates arguments,
// resolves path arguments through the jail and only then calls the handler.
package tools

import (
	"context"
	"time"
)

// SideEffect classifies what a tool may change.
type SideEffect string

const (
	// ReadOnly tools never mutate state and may be retried freely.
	ReadOnly SideEffect = "read-only"

	// MutatesFilesystem tools write inside the jail; retries are bounded by the repair controller.
	MutatesFilesystem SideEffect = "mutates-filesystem"

	// ExternalEffect tools act outside the process (e.g. email); they are never replayed.
	ExternalEffect SideEffect = "external-effect"
)

// Valid reports whether s is a known class.
func (s SideEffect) Valid() bool {
	switch s {
	case ReadOnly, MutatesFilesystem, ExternalEffect:
		return true
	}
	return false
}

// Replayable reports whether a failed invocation may be re-issued as-is.
func (s SideEffect) Replayable() bool {
	return s != ExternalEffect
}

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter. Arguments not listed here are rejected.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is a registered operation.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	// Forwarded to the planner so it can choose tools.
	Description string

	// SideEffect determines retry policy.
	SideEffect SideEffect

	// Execute runs the tool with validated, jail-resolved arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// PathArgs names string arguments that are filesystem paths.
	// They are replaced by absolute jailed paths before Execute runs.
	PathArgs []string

	// Timeout bounds a single invocation when > 0.
	Timeout time.Duration
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	if !t.SideEffect.Valid() {
		return ErrUnknownSideEffect
	}
	return nil
}

// Spec is the immutable public view of a registered tool.
type Spec struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SideEffect  SideEffect `json:"side_effect"`
	Schema      ToolSchema `json:"schema"`
	PathArgs    []string   `json:"path_args,omitempty"`
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Output is the string output from the tool.
	Output string

	// SideEffect is the class of the tool that ran.
	SideEffect SideEffect

	// DurationMs is how long execution took.
	DurationMs int64
}
