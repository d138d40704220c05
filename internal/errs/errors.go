// Package errs provides the unified error type used across all of sqlpoll.
//
// Every subsystem (config, database drivers, cursor stores, the poller, …)
// wraps its native errors into *errs.Error before returning them. Callers use
// the Is* predicates to decide what to do without importing driver packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindQueryFailed, "query failed", pgErr)
//
//	// In the scheduler, decide retry vs abort:
//	if errs.IsFatal(err) {
//	    return err
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown               ErrKind = iota
	ErrKindConfiguration                 // invalid or contradictory options, raised before connecting
	ErrKindDriverLoad                    // driver identity or library cannot be loaded
	ErrKindConnectionFailed              // cannot reach or authenticate to the database
	ErrKindQueryFailed                   // statement execution or page fetch failed
	ErrKindTrackingColumnMissing         // tracking column absent from a row
	ErrKindStateCorruption               // persisted cursor cannot be decoded
	ErrKindStateWrite                    // persisted cursor cannot be written
	ErrKindTimeout                       // context deadline / cancellation
	ErrKindNotFound                      // no rows, no object, no bucket
	ErrKindInvalidInput                  // bad arguments from the caller
	ErrKindPermissionDenied              // access denied / auth failure
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindConfiguration:
		return "configuration"
	case ErrKindDriverLoad:
		return "driver_load"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindTrackingColumnMissing:
		return "tracking_column_missing"
	case ErrKindStateCorruption:
		return "state_corruption"
	case ErrKindStateWrite:
		return "state_write"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all sqlpoll subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Wrapf is Wrap with a format string.
func Wrapf(kind ErrKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// --- Predicates ---

// IsConfiguration reports whether err is a pre-flight configuration error.
func IsConfiguration(err error) bool {
	return KindOf(err) == ErrKindConfiguration
}

// IsDriverLoad reports whether err was raised while loading a database driver.
func IsDriverLoad(err error) bool {
	return KindOf(err) == ErrKindDriverLoad
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a statement execution failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsTrackingColumnMissing reports whether err flags an absent tracking column.
func IsTrackingColumnMissing(err error) bool {
	return KindOf(err) == ErrKindTrackingColumnMissing
}

// IsStateCorruption reports whether err means the persisted cursor is unreadable.
func IsStateCorruption(err error) bool {
	return KindOf(err) == ErrKindStateCorruption
}

// IsStateWrite reports whether err means the cursor could not be persisted.
func IsStateWrite(err error) bool {
	return KindOf(err) == ErrKindStateWrite
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsFatal reports whether err must abort startup rather than a single poll cycle.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case ErrKindConfiguration, ErrKindDriverLoad, ErrKindStateCorruption:
		return true
	}
	return false
}

// KindOf extracts the ErrKind from the first *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
