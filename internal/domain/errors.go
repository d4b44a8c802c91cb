package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a category of job failure
type ErrorCode string

const (
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeUnsupportedAction ErrorCode = "UNSUPPORTED_ACTION"
	ErrCodeInvalidParams     ErrorCode = "INVALID_PARAMS"
	ErrCodeCommandFailed     ErrorCode = "COMMAND_EXECUTION_FAILED"
	ErrCodeTimedOut          ErrorCode = "TIMED_OUT"
	ErrCodeResultParse       ErrorCode = "RESULT_PARSE_ERROR"
	ErrCodeAuditWrite        ErrorCode = "AUDIT_WRITE_FAILED"
)

// ErrInvalidAuditStatus is returned when a record carries a status outside the closed set
var ErrInvalidAuditStatus = errors.New("invalid audit status")

// JobError is a structured job failure. Stdout and Stderr are only populated
// for process failures.
type JobError struct {
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Action   string    `json:"action,omitempty"`
	Missing  []string  `json:"missing,omitempty"`
	ExitCode int       `json:"exitCode,omitempty"`
	Stdout   string    `json:"-"`
	Stderr   string    `json:"-"`
	Cause    error     `json:"-"`
}

// Error implements the error interface
func (e *JobError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the cause error
func (e *JobError) Unwrap() error {
	return e.Cause
}

// Code returns the error code of err, or "" when err is not a JobError
func Code(err error) ErrorCode {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return Code(err) == code
}

// ErrConfiguration reports missing configuration values
func ErrConfiguration(missing ...string) *JobError {
	return &JobError{
		Code:    ErrCodeConfiguration,
		Message: fmt.Sprintf("missing required configuration: %s", strings.Join(missing, ", ")),
		Missing: missing,
	}
}

// ErrUnsupportedAction reports an action outside the registry
func ErrUnsupportedAction(action string) *JobError {
	return &JobError{
		Code:    ErrCodeUnsupportedAction,
		Message: fmt.Sprintf("unsupported action %q", action),
		Action:  action,
	}
}

// ErrInvalidParams reports params an action refused to build a command from
func ErrInvalidParams(action, reason string) *JobError {
	return &JobError{
		Code:    ErrCodeInvalidParams,
		Message: fmt.Sprintf("invalid params for %s: %s", action, reason),
		Action:  action,
	}
}

// ErrCommandFailed reports a nonzero exit or a spawn failure.
// exitCode is -1 when the process never started.
func ErrCommandFailed(exitCode int, stdout, stderr string, cause error) *JobError {
	msg := fmt.Sprintf("command exited with code %d", exitCode)
	if exitCode < 0 {
		msg = "command could not be started"
	}
	if s := strings.TrimSpace(stderr); s != "" {
		msg = fmt.Sprintf("%s: %s", msg, firstLine(s))
	}
	return &JobError{
		Code:     ErrCodeCommandFailed,
		Message:  msg,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Cause:    cause,
	}
}

// ErrTimedOut reports a process killed after exceeding its timeout
func ErrTimedOut(after time.Duration, stdout, stderr string) *JobError {
	return &JobError{
		Code:     ErrCodeTimedOut,
		Message:  fmt.Sprintf("command timed out after %s", after),
		ExitCode: -1,
		Stdout:   stdout,
		Stderr:   stderr,
	}
}

// ErrResultParse reports output that could not be decoded. Callers degrade to raw text.
func ErrResultParse(action string, cause error) *JobError {
	return &JobError{
		Code:    ErrCodeResultParse,
		Message: fmt.Sprintf("could not parse %s output", action),
		Action:  action,
		Cause:   cause,
	}
}

// ErrAuditWrite reports a failure to persist an audit record
func ErrAuditWrite(jobID string, status AuditStatus, cause error) *JobError {
	return &JobError{
		Code:    ErrCodeAuditWrite,
		Message: fmt.Sprintf("failed to write %s audit record for job %s", status, jobID),
		Cause:   cause,
	}
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
