// Package errs provides the structured error taxonomy shared across the
// orchestration engine. Each failure class carries different handling
// rules: validation errors are rejected at the point of entry and never
// persisted, parse and generation errors keep enough state to resume, and
// capture errors are never fatal.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation  Kind = "validation"  // bad input, locked stage; never persisted
	KindParse       Kind = "parse"       // repair parser exhausted all strategies
	KindGeneration  Kind = "generation"  // agent call failed or produced no usable signal
	KindPersistence Kind = "persistence" // stage/log write failed; in-memory state intact
	KindCapture     Kind = "capture"     // screenshot failed; non-fatal
)

// Error is a kind-tagged error with an operation label and optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kind-tagged error with a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates a kind-tagged error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind and operation.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the failure class is safe to retry with saved
// state. Validation and parse failures need different input, not another
// attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindGeneration, KindPersistence, KindCapture:
		return true
	}
	return false
}
