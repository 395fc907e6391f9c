// Package errs defines the error taxonomy shared by every component, per
// spec.md §7. Component boundaries convert low-level errors (SQL driver
// errors, transport failures) into one of these kinds before they cross
// a package boundary; nothing is re-thrown as an out-of-band exception.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in spec.md §7 (not a type name —
// a classification carried on a Go error value).
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindTransientIO Kind = "transient_io"
	KindTimeout     Kind = "timeout"
	KindSupervision Kind = "supervision"
	KindFatal       Kind = "fatal"
)

// Error wraps an underlying cause with a Kind and a message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a taxonomy error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap converts an underlying error into a taxonomy error of the given
// kind, preserving it for errors.Is/errors.As via Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is (or wraps) a taxonomy error of kind k.
func Is(err error, k Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == k
	}
	return false
}

// Common sentinel-style constructors used throughout the store, router,
// and engine packages.

func NotFound(what string) *Error {
	return New(KindNotFound, what+" not found")
}

func DimensionMismatch(want, got int) *Error {
	return New(KindValidation, fmt.Sprintf("embedding dimension mismatch: want %d, got %d", want, got))
}

func NamespaceViolation(msg string) *Error {
	return New(KindValidation, "namespace violation: "+msg)
}

func Corrupted(msg string) *Error {
	return New(KindFatal, "storage corrupted: "+msg)
}
