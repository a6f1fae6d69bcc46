// Package errs classifies failures into the kinds §7 of the design
// assigns call-site meaning to: which ones are retriable, which ones
// terminate a phase, and which HTTP status an (external) controller
// would map them to.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the core distinguishes between.
type Kind string

const (
	// InputInvalid is a bad parameter: out-of-range paging, an unknown
	// enum value, an unknown collection name.
	InputInvalid Kind = "input_invalid"
	// NotFound is an addressed entity that does not exist.
	NotFound Kind = "not_found"
	// Conflict is a lock unavailable or an analysis already running.
	Conflict Kind = "conflict"
	// Cancelled is a propagated cancellation signal.
	Cancelled Kind = "cancelled"
	// PermanentIO is a schema mismatch, decryption failure, or
	// malformed CSV header. Never retried.
	PermanentIO Kind = "permanent_io"
	// TransientIO is a network/5xx/throttling failure. Retried with
	// bounded backoff by the adapter; surfaced as PermanentIO once
	// retries are exhausted.
	TransientIO Kind = "transient_io"
	// IntegrityViolation is an empty composite key part or a
	// duplicate lineage event with conflicting values.
	IntegrityViolation Kind = "integrity_violation"
)

type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *kindError) Unwrap() error { return e.err }

// New creates an error of the given kind with no wrapped cause.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, msg: msg, err: err}
}

// KindOf returns the first Kind found walking the error chain, and
// whether one was found at all.
func KindOf(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retriable reports whether the call site should retry the operation
// that produced err (per §7: only TransientIO is retried by the
// object/document-store adapters themselves).
func Retriable(err error) bool {
	return Is(err, TransientIO)
}
