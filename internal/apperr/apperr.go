// Package apperr defines the single tagged error type surfaced by the
// engine, per the error kinds in spec.md §7.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies an Error the way spec.md §7 enumerates error kinds.
type Kind string

const (
	// InvalidConfig marks a bad TOML shape or unknown config key; fatal at open time.
	InvalidConfig Kind = "InvalidConfig"
	// InvalidFormat marks text that does not parse at all: config that is
	// not TOML, or a wire payload that is not JSON.
	InvalidFormat Kind = "InvalidFormat"
	// Sql marks DDL resolution, column lookup, type mismatch, or runtime
	// expression failure; non-fatal per row.
	Sql Kind = "Sql"
	// InputTimeout marks a source or queue starved within its configured
	// timeout; non-fatal, the worker proceeds to the next task.
	InputTimeout Kind = "InputTimeout"
	// ForeignSourceTimeout marks an external source read failure.
	ForeignSourceTimeout Kind = "ForeignSourceTimeout"
	// ForeignSinkIo marks an external sink write failure.
	ForeignSinkIo Kind = "ForeignSinkIo"
	// Unavailable marks an operation attempted during a pipeline update window.
	Unavailable Kind = "Unavailable"
	// ThreadPoisoned marks an unexpected panic in a worker.
	ThreadPoisoned Kind = "ThreadPoisoned"
)

// Error is the engine's single tagged error type. All errors that cross
// a package boundary in this module are either an *Error or wrapped
// into one by New/Wrap.
type Error struct {
	// ID uniquely identifies this particular error occurrence, so a log
	// line and a surfaced message can be correlated without embedding
	// the full message twice.
	ID      string
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %s", e.Kind, e.ID, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.ID, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext attaches a key/value pair of diagnostic context and
// returns the same Error for chaining, mirroring the teacher's
// BundleError.WithContext.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{ID: uuid.New().String(), Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{ID: uuid.New().String(), Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
