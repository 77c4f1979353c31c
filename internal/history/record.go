// Package history defines the append-only record of executed plans.
//
// Every executed plan produces exactly one Record. Records are assigned a
// monotonically increasing sequence number on append and never change
// afterwards; the meta layer reads a window of the most recent records.
package history

import (
	"context"
	"time"
)

// Status is the outcome of an executed plan.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Failure kinds recorded on failed results.
const (
	FailureValidation   = "ValidationError"
	FailureJail         = "JailViolation"
	FailureTool         = "ToolError"
	FailureCodemod      = "CodemodError"
	FailureVerification = "VerificationFailed"
	FailureInternal     = "InternalError"
)

// Failure carries what a repair needs: the offending file, the offending
// rule and the tool or codemod error code.
type Failure struct {
	Kind   string `json:"kind"`
	Code   string `json:"code,omitempty"`
	Path   string `json:"path,omitempty"`
	Rule   string `json:"rule,omitempty"`
	Detail string `json:"detail"`
}

// Record is one executed plan and its result.
type Record struct {
	Seq          int64     `json:"seq"`
	Time         time.Time `json:"ts"`
	ProvenanceID string    `json:"provenance_id"`
	TicketID     string    `json:"ticket_id,omitempty"`
	TaskType     string    `json:"task_type"`
	Tool         string    `json:"tool,omitempty"`
	Paths        []string  `json:"paths,omitempty"`
	Status       Status    `json:"status"`
	Diff         string    `json:"diff,omitempty"`
	Output       string    `json:"output,omitempty"`
	Failure      *Failure  `json:"failure,omitempty"`
}

// OK reports whether the plan succeeded.
func (r *Record) OK() bool { return r.Status == StatusOK }

// Appender is the write side. Append assigns Seq and Time and returns the
// assigned sequence number.
type Appender interface {
	Append(ctx context.Context, r *Record) (int64, error)
}

// Reader is the read side used by analysis and ticket generation.
type Reader interface {
	// Recent returns up to n most recent records in ascending seq order.
	Recent(ctx context.Context, n int) ([]Record, error)
	Count(ctx context.Context) (int64, error)
}

// Store is a complete history store.
type Store interface {
	Appender
	Reader
}
