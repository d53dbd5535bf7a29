// Package errs defines the error kinds shared by every caps package.
//
// Errors carry a Code for the caller's switch, a human-readable message,
// the offending entity (when there is one) and an optional multi-line
// diagnostic. Local, recoverable conditions are returned to the immediate
// caller; conditions discovered deep inside a dependency walk carry Lines
// so the caller can drain and present them.
//
// JournalCorrupt is the only fatal code: once seen, the owning Problem must
// be reloaded from its last complete checkpoint.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies the error category.
type Code string

const (
	// OK is the status of a successful operation. It is never carried by an Error.
	OK Code = "OK"

	// NullReference indicates a zero handle was passed where an entity is required.
	NullReference Code = "NULL_REFERENCE"

	// InvalidHandle indicates a handle whose slot was freed or never existed.
	InvalidHandle Code = "INVALID_HANDLE"

	// WrongKind indicates a live handle of a different entity kind than expected.
	WrongKind Code = "WRONG_KIND"

	// EmptyPayload indicates an entity without the data the operation needs.
	EmptyPayload Code = "EMPTY_PAYLOAD"

	// IllegalState indicates an operation not permitted in the entity's state
	// (for example mutating a closed Bound).
	IllegalState Code = "ILLEGAL_STATE"

	// CircularLink indicates a link chain that would revisit its origin.
	CircularLink Code = "CIRCULAR_LINK"

	// UnitMismatch indicates incompatible unit strings.
	UnitMismatch Code = "UNIT_MISMATCH"

	// JournalCorrupt indicates a replay divergence or a damaged journal record.
	JournalCorrupt Code = "JOURNAL_CORRUPT"

	// SourceUnavailable indicates a missing or unlinked dependency.
	SourceUnavailable Code = "SOURCE_UNAVAILABLE"

	// StillDirty indicates a read of an artifact whose upstream is out of date.
	StillDirty Code = "STILL_DIRTY"

	// AllocationFailure indicates a buffer could not be sized as requested.
	AllocationFailure Code = "ALLOCATION_FAILURE"

	// RangeError indicates a bad index or shape.
	RangeError Code = "RANGE_ERROR"

	// NotFound indicates a name, parameter or element location that does not exist.
	NotFound Code = "NOT_FOUND"

	// NotConverged indicates an iterative solve or fit that missed its tolerance.
	NotConverged Code = "NOT_CONVERGED"

	// Internal classifies errors that did not originate in caps (I/O, driver errors).
	Internal Code = "INTERNAL"
)

// Fatal reports whether the code invalidates the whole session.
func (c Code) Fatal() bool {
	return c == JournalCorrupt
}

// Error is a coded caps error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Entity names the offending entity, if any (for example `Analysis "aero"`).
	Entity string

	// Lines is the attached multi-line diagnostic.
	Lines []string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Entity != "" {
		fmt.Fprintf(&b, " (%s)", e.Entity)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// On sets the offending entity and returns the receiver.
func (e *Error) On(entity string) *Error {
	e.Entity = entity
	return e
}

// With appends diagnostic lines and returns the receiver.
func (e *Error) With(lines ...string) *Error {
	e.Lines = append(e.Lines, lines...)
	return e
}

// CodeOf extracts the code from an error chain.
// Returns OK for nil and Internal for errors without a caps code.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether any error in the chain carries the code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsFatal reports whether the error invalidates the session.
func IsFatal(err error) bool {
	return CodeOf(err).Fatal()
}
