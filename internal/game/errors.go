// internal/game/errors.go
package game

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an engine failure for the caller and the dispatcher's
// retry policy. Only the store kinds are ever retried.
type ErrorKind string

const (
	KindValidation      ErrorKind = "ValidationError"
	KindStateTransition ErrorKind = "StateTransitionError"
	KindConflict        ErrorKind = "ConflictError"
	KindTransientStore  ErrorKind = "TransientStoreError"
	KindPermanentStore  ErrorKind = "PermanentStoreError"
)

// Error is the engine's error type. Business-rule failures (validation,
// state transition, conflict) surface immediately; transient store failures
// are retried with backoff before being reported.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the dispatcher may retry the failed write.
func (e *Error) Retryable() bool { return e.Kind == KindTransientStore }

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrorf reports a malformed or out-of-range command payload.
func ValidationErrorf(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

// TransitionErrorf reports a command issued in the wrong phase.
func TransitionErrorf(format string, args ...interface{}) *Error {
	return newError(KindStateTransition, format, args...)
}

// ConflictErrorf reports a booking conflict (already booked / not found).
func ConflictErrorf(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// StoreError wraps a store failure with the given classification.
func StoreError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Message: "store operation failed", cause: cause}
}

// KindOf extracts the classification from any error chain; unclassified
// errors are treated as permanent store failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPermanentStore
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
