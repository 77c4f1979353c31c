// Package plan defines the structured work order and its validator/router.
//
// A Plan arrives as JSON from the planner or the operator. The Router is the
// only component that interprets it: it checks the shape required by the
// declared task type, the tool catalog and the taught rules, and produces
// exactly one Action variant. Routing never executes anything.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TaskType selects the execution strategy.
type TaskType string

const (
	TaskTool    TaskType = "tool"
	TaskCodemod TaskType = "codemod"
	TaskInfo    TaskType = "info"
)

// EditOp is how a codemod edit treats its file.
type EditOp string

const (
	// OpModify replaces the span of an existing named definition.
	OpModify EditOp = "modify"
	// OpCreate writes a file that must not exist yet.
	OpCreate EditOp = "create"
)

// Edit is one per-file codemod instruction.
type Edit struct {
	Path   string `json:"path"`
	Op     EditOp `json:"op"`
	Symbol string `json:"symbol,omitempty"`
	// Replacement is the full new source of the definition. When empty the
	// executor asks the rewriter to produce it from the plan instructions.
	Replacement string `json:"replacement,omitempty"`
	// Content is the body of a created file.
	Content string `json:"content,omitempty"`
}

// Plan is the wire shape of a work order.
type Plan struct {
	TaskType     TaskType       `json:"task_type"`
	Tool         string         `json:"tool,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	TargetPaths  []string       `json:"target_paths,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Edits        []Edit         `json:"edits,omitempty"`
	Response     string         `json:"response,omitempty"`
	ProvenanceID string         `json:"provenance_id"`
	TicketID     string         `json:"ticket_id,omitempty"`
}

// Decode parses a plan. Unknown fields and trailing data are rejected as
// a ValidationError so malformed plans are recorded like any other invalid plan.
func Decode(data []byte) (*Plan, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, &ValidationError{Kind: KindMalformed, Detail: err.Error()}
	}
	if dec.More() {
		return nil, &ValidationError{Kind: KindMalformed, Detail: "trailing data after plan object", ProvenanceID: p.ProvenanceID}
	}
	return &p, nil
}

// Encode renders a plan as indented JSON.
func (p *Plan) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return data, nil
}

// Clone returns a deep copy.
func (p *Plan) Clone() *Plan {
	c := *p
	if p.Args != nil {
		c.Args = cloneArgs(p.Args)
	}
	c.TargetPaths = append([]string(nil), p.TargetPaths...)
	c.Edits = append([]Edit(nil), p.Edits...)
	return &c
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch tv := v.(type) {
		case []any:
			out[k] = append([]any(nil), tv...)
		case map[string]any:
			out[k] = cloneArgs(tv)
		default:
			out[k] = v
		}
	}
	return out
}

// Provenance links an action to its originating request and ticket.
type Provenance struct {
	ID       string
	TicketID string
}

// Action is a routed plan. It is one of *ToolAction, *CodemodAction or
// *InfoAction; consumers switch over exactly these three.
type Action interface {
	Kind() TaskType
	Origin() Provenance
	// Paths returns the root-relative paths the action targets.
	Paths() []string
	action()
}

// ToolAction invokes a registered tool.
type ToolAction struct {
	Provenance
	Tool string
	Args map[string]any
	// Replayable is false for external-effect tools.
	Replayable bool
	paths      []string
}

// CodemodAction applies per-file edits.
type CodemodAction struct {
	Provenance
	Instructions string
	Edits        []Edit
}

// InfoAction answers without touching the filesystem.
type InfoAction struct {
	Provenance
	Response     string
	Instructions string
}

func (a *ToolAction) Kind() TaskType    { return TaskTool }
func (a *CodemodAction) Kind() TaskType { return TaskCodemod }
func (a *InfoAction) Kind() TaskType    { return TaskInfo }

func (a *ToolAction) Origin() Provenance    { return a.Provenance }
func (a *CodemodAction) Origin() Provenance { return a.Provenance }
func (a *InfoAction) Origin() Provenance    { return a.Provenance }

func (a *ToolAction) Paths() []string { return append([]string(nil), a.paths...) }

func (a *CodemodAction) Paths() []string {
	out := make([]string, 0, len(a.Edits))
	seen := make(map[string]bool)
	for _, e := range a.Edits {
		if !seen[e.Path] {
			seen[e.Path] = true
			out = append(out, e.Path)
		}
	}
	return out
}

func (a *InfoAction) Paths() []string { return nil }

func (*ToolAction) action()    {}
func (*CodemodAction) action() {}
func (*InfoAction) action()    {}
