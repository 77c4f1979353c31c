package plan

import (
	"errors"
	"fmt"
)

// ErrValidation is the sentinel wrapped by every ValidationError.
var ErrValidation = errors.New("plan validation failed")

// ValidationKind classifies a ValidationError.
type ValidationKind string

const (
	KindMalformed       ValidationKind = "Malformed"
	KindUnknownTaskType ValidationKind = "UnknownTaskType"
	KindMissingField    ValidationKind = "MissingField"
	KindInvalidField    ValidationKind = "InvalidField"
	KindConflictingEdit ValidationKind = "ConflictingEdit"
	KindUnknownTool     ValidationKind = "UnknownTool"
	KindRuleViolation   ValidationKind = "RuleViolation"
)

// ValidationError rejects a plan before anything executes.
type ValidationError struct {
	Kind         ValidationKind
	Field        string
	Detail       string
	Rule         string // text of the violated rule, for RuleViolation
	Path         string // offending path, when one is known
	ProvenanceID string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid plan (%s)", e.Kind)
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(" [rule: %s]", e.Rule)
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
