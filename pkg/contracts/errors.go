package contracts

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, branchable classification of a governance error.
// Codes are part of the wire contract: the API surfaces them verbatim so
// callers can dispatch without parsing messages.
type ErrorCode string

const (
	// CodeValidation: the request itself is malformed or not admissible.
	CodeValidation ErrorCode = "VALIDATION_ERROR"
	// CodeNotFound: unknown approval_id or session_id.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeInvalidTransition: the operation is not legal from the command's
	// current state. The error carries that state so callers can reconcile.
	CodeInvalidTransition ErrorCode = "INVALID_STATE_TRANSITION"
	// CodeConflict: lost a serialization race for the same key.
	CodeConflict ErrorCode = "CONCURRENCY_CONFLICT"
	// CodeExecutionFailure: the external adapter reported an error. This is
	// recorded on the command (state FAILED) and returned as data, never
	// raised to the API caller as a transport error.
	CodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
)

// Error is the single error type crossing package boundaries in this
// module. Wrapped causes stay reachable through errors.Is/As.
type Error struct {
	Code    ErrorCode
	Message string

	// CurrentState is populated for CodeInvalidTransition and CodeConflict
	// so the caller learns where the command actually is.
	CurrentState CommandState

	cause error
}

func (e *Error) Error() string {
	if e.CurrentState != "" {
		return fmt.Sprintf("%s: %s (current state %s)", e.Code, e.Message, e.CurrentState)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// NewValidation builds a VALIDATION_ERROR.
func NewValidation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound builds a NOT_FOUND for the given key.
func NewNotFound(kind, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

// NewInvalidTransition builds an INVALID_STATE_TRANSITION describing the
// refused operation and the state the command is actually in.
func NewInvalidTransition(op string, current CommandState) *Error {
	return &Error{
		Code:         CodeInvalidTransition,
		Message:      fmt.Sprintf("cannot %s from state %s", op, current),
		CurrentState: current,
	}
}

// NewConflict builds a CONCURRENCY_CONFLICT for a lost race on key.
func NewConflict(key string, current CommandState) *Error {
	return &Error{
		Code:         CodeConflict,
		Message:      fmt.Sprintf("lost update race on %q", key),
		CurrentState: current,
	}
}

// NewExecutionFailure wraps an adapter error for recording on the command.
func NewExecutionFailure(err error) *Error {
	return &Error{
		Code:    CodeExecutionFailure,
		Message: err.Error(),
		cause:   err,
	}
}

// CodeOf extracts the ErrorCode from err, or "" when err is not a
// governance error.
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
