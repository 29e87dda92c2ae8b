package errs

import (
	"errors"
	"fmt"
)

// Error is the structured error type returned by the core. It carries one of
// the four closed error codes mandated by the spec plus enough context for
// callers (CLI, MCP server, HTTP handlers, all external to this module) to
// present something useful.
type Error struct {
	Code     Code
	Message  string
	Severity Severity
	Details  map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is(err, target) to match by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a structured Error with the given code and message.
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Severity: severityForCode(code),
		Cause:    cause,
	}
}

// Wrap creates an Error from an existing error, preserving its message.
// Returns nil if err is nil.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Invalid builds an INVALID_INPUT error, used for malformed queries and FTS
// syntax errors on the primary query (§4.5, §4.9).
func Invalid(message string, cause error) *Error {
	return New(InvalidInput, message, cause)
}

// QueryFailedErr builds a QUERY_FAILED error for uncategorized store/vector
// index failures.
func QueryFailedErr(message string, cause error) *Error {
	return New(QueryFailed, message, cause)
}

// VecUnavailable builds a VEC_SEARCH_UNAVAILABLE error.
func VecUnavailable(message string) *Error {
	return New(VecSearchUnavailable, message, nil)
}

// InternalErr builds an INTERNAL error for unexpected failures.
func InternalErr(message string, cause error) *Error {
	return New(Internal, message, cause)
}

// GetCode extracts the Code from an error, returning "" if it is not an
// *Error.
func GetCode(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
