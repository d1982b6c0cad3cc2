package queue

import (
	"errors"
	"fmt"
)

// Code classifies queue errors the way callers need to react to them. Codes
// at the enqueue boundary surface synchronously; codes at dispatch time are
// recorded on the job and thought instead.
type Code string

const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodeInvalidArgument    Code = "invalid-argument"
	CodeNotFound           Code = "not-found"
	CodeFailedPrecondition Code = "failed-precondition"
	CodePermissionDenied   Code = "permission-denied"
	CodeResourceExhausted  Code = "resource-exhausted"
	CodeInternal           Code = "internal"
)

// Error is a typed queue error carrying a code and an optional machine
// readable reason (used by the entitlement gate's denial table).
type Error struct {
	Code    Code
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds a typed error.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// EReason builds a typed error with a reason code.
func EReason(code Code, reason, format string, args ...any) *Error {
	return &Error{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
