// Package apperror implements the error taxonomy from spec §7: a small
// set of machine-checkable kinds wrapping an underlying cause, following
// the teacher's own fmt.Errorf("...: %w", err) wrapping idiom rather than
// adopting a third-party errors library the teacher never reaches for.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is one of the machine-checkable error categories spec §7 lists.
type Kind string

const (
	NotFound           Kind = "NotFound"
	PermissionDenied   Kind = "PermissionDenied"
	Conflict           Kind = "Conflict"
	ScannerUnreachable Kind = "ScannerUnreachable"
	ScannerProtocol    Kind = "ScannerProtocol"
	FeedBusy           Kind = "FeedBusy"
	CapacityExhausted  Kind = "CapacityExhausted"
	InternalInvariant  Kind = "InternalInvariant"
)

// Error is the concrete error type every surfaced core error uses. It
// carries a short machine Kind plus a human-readable Text, matching spec
// §7's "every surfaced error includes a short machine code plus a
// human-readable text".
type Error struct {
	Kind Kind
	Text string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Text, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Text)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error with no wrapped cause.
func New(kind Kind, text string) *Error {
	return &Error{Kind: kind, Text: text}
}

// Wrap constructs an Error wrapping cause.
func Wrap(kind Kind, text string, cause error) *Error {
	return &Error{Kind: kind, Text: text, Err: cause}
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
