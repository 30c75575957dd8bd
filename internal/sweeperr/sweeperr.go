// Package sweeperr defines the failure taxonomy of a sweep. Every error that
// stops or degrades a sweep carries a Kind so the CLI can pick an exit code
// and the orchestrator can decide whether the failure is fatal.
package sweeperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a sweep failure by the stage that produced it.
type Kind string

const (
	KindConfig       Kind = "config"
	KindToolchain    Kind = "toolchain"
	KindProvisioning Kind = "provisioning"
	KindRun          Kind = "run"
	KindSink         Kind = "sink"
	KindCanceled     Kind = "canceled"
)

// Error is the structured error type used across the sweep engine.
type Error struct {
	Kind    Kind
	Op      string // e.g. "configure", "load lineitemQ1", "run tpch_q1"
	Message string
	Stderr  string // tail of the child's stderr, if any
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failure", e.Kind)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Op == "" && t.Message == "" && t.Cause == nil && e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrConfig       = &Error{Kind: KindConfig}
	ErrToolchain    = &Error{Kind: KindToolchain}
	ErrProvisioning = &Error{Kind: KindProvisioning}
	ErrRun          = &Error{Kind: KindRun}
	ErrSink         = &Error{Kind: KindSink}
	ErrCanceled     = &Error{Kind: KindCanceled}
)

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap wraps cause with a kind and operation.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Process wraps the failure of an external process. Cancellation of the
// sweep context is reported as KindCanceled regardless of kind.
func Process(kind Kind, op string, cause error, stderr string) *Error {
	if errors.Is(cause, context.Canceled) {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Op: op, Stderr: stderr, Cause: cause}
}

// Config creates a configuration error.
func Config(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not a sweep error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether a failure of this kind always aborts the sweep.
// Run failures are fatal only under the abort policy, which the caller decides.
func IsFatal(err error) bool {
	return KindOf(err) != KindRun
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfig:
		return 2
	case KindToolchain:
		return 3
	case KindProvisioning:
		return 4
	case KindRun:
		return 5
	case KindSink:
		return 6
	case KindCanceled:
		return 130
	default:
		return 1
	}
}
