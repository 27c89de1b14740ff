package flume

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a request or message failed validation.
	ErrValidation = errors.New("validation error")

	// ErrUnauthenticated indicates no user identity could be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrRateLimited indicates the user has exhausted their quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrStreamClosed indicates an operation on a closed stream.
	ErrStreamClosed = errors.New("stream closed")
)

// ErrorCode classifies a pipeline failure. The set is closed; stages must
// map their failures onto one of these codes.
type ErrorCode string

const (
	CodeValidation ErrorCode = "validation"
	CodeAuth       ErrorCode = "auth"
	CodeRateLimit  ErrorCode = "rate_limit"
	CodeUpstream   ErrorCode = "upstream_failure"
	CodeTimeout    ErrorCode = "pipeline_timeout"
	CodeUnexpected ErrorCode = "unexpected"
)

// Severity decides whether the pipeline continues after an error.
type Severity string

const (
	// SeverityWarning is recorded and execution continues; the failing
	// stage's effect is simply absent from the response.
	SeverityWarning Severity = "warning"

	// SeverityCritical halts the remaining stages immediately.
	SeverityCritical Severity = "critical"
)

// Error is a pipeline failure tagged with a code, a severity, and the stage
// that produced it. Warnings accumulate on the request context; a critical
// error stops the run.
type Error struct {
	Code     ErrorCode
	Severity Severity
	Stage    string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s [%s] at stage %q", e.Code, e.Severity, e.Stage)
	}
	return fmt.Sprintf("%s [%s] at stage %q: %v", e.Code, e.Severity, e.Stage, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Critical builds a critical-severity Error.
func Critical(code ErrorCode, stage string, err error) *Error {
	return &Error{Code: code, Severity: SeverityCritical, Stage: stage, Err: err}
}

// Warning builds a warning-severity Error.
func Warning(code ErrorCode, stage string, err error) *Error {
	return &Error{Code: code, Severity: SeverityWarning, Stage: stage, Err: err}
}

// IsCritical reports whether err is (or wraps) a critical-severity Error.
func IsCritical(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Severity == SeverityCritical
}

// CodeOf extracts the ErrorCode from err, or CodeUnexpected when err is not
// a pipeline Error.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnexpected
}
