package codemod

import (
	"errors"
	"fmt"
)

// ErrCodemod is wrapped by every *Error.
var ErrCodemod = errors.New("codemod failed")

// ErrorKind classifies a codemod failure.
type ErrorKind string

const (
	KindTargetNotFound     ErrorKind = "TargetNotFound"
	KindAmbiguous          ErrorKind = "Ambiguous"
	KindUnsupported        ErrorKind = "Unsupported"
	KindAlreadyExists      ErrorKind = "AlreadyExists"
	KindFileMissing        ErrorKind = "FileMissing"
	KindInvalidReplacement ErrorKind = "InvalidReplacement"
)

// Error reports why an edit could not be applied. The target file is
// untouched whenever an Error is returned.
type Error struct {
	Kind   ErrorKind
	Path   string
	Symbol string
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("codemod %s: %s", e.Kind, e.Path)
	if e.Symbol != "" {
		msg += " (" + e.Symbol + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return ErrCodemod }

// IsKind reports whether err is a codemod *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}
