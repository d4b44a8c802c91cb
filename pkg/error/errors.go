package error

import (
	"errors"
	"net/http"

	"github.com/tenantdesk/exojobs/internal/domain"
)

type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest       = &AppError{Code: "BAD_REQUEST", Message: "Bad request", Status: http.StatusBadRequest}
	ErrUnauthorized     = &AppError{Code: "UNAUTHORIZED", Message: "Unauthorized", Status: http.StatusUnauthorized}
	ErrForbidden        = &AppError{Code: "FORBIDDEN", Message: "Forbidden", Status: http.StatusForbidden}
	ErrNotFound         = &AppError{Code: "NOT_FOUND", Message: "Not found", Status: http.StatusNotFound}
	ErrMethodNotAllowed = &AppError{Code: "METHOD_NOT_ALLOWED", Message: "Method not allowed", Status: http.StatusMethodNotAllowed}
	ErrTooManyRequest   = &AppError{Code: "RATE_LIMITED", Message: "Too many requests", Status: http.StatusTooManyRequests}
	ErrInternalServer   = &AppError{Code: "INTERNAL_ERROR", Message: "Internal server error", Status: http.StatusInternalServerError}
	ErrQueueUnavailable = &AppError{Code: "QUEUE_UNAVAILABLE", Message: "Job queue unavailable", Status: http.StatusServiceUnavailable}
)

// WithMessage copies e with a caller-facing message. An empty message keeps the default.
func (e *AppError) WithMessage(message string) *AppError {
	out := *e
	if message != "" {
		out.Message = message
	}
	return &out
}

func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}

func NewUnauthorized(message string) *AppError {
	return ErrUnauthorized.WithMessage(message)
}

func NewForbidden(message string) *AppError {
	return ErrForbidden.WithMessage(message)
}

func NewNotFound(message string) *AppError {
	return ErrNotFound.WithMessage(message)
}

func NewTooManyRequests(message string) *AppError {
	return ErrTooManyRequest.WithMessage(message)
}

func NewInternalServer(message string) *AppError {
	return ErrInternalServer.WithMessage(message)
}

func NewQueueUnavailable(message string) *AppError {
	return ErrQueueUnavailable.WithMessage(message)
}

// MapError converts errors escaping a use case into an HTTP-facing AppError.
// Job errors keep their domain code so clients can branch on it.
func MapError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var jobErr *domain.JobError
	if errors.As(err, &jobErr) {
		switch jobErr.Code {
		case domain.ErrCodeInvalidParams, domain.ErrCodeUnsupportedAction:
			return &AppError{Code: string(jobErr.Code), Message: jobErr.Error(), Status: http.StatusBadRequest}
		case domain.ErrCodeConfiguration:
			return &AppError{Code: string(jobErr.Code), Message: jobErr.Error(), Status: http.StatusServiceUnavailable}
		case domain.ErrCodeTimedOut:
			return &AppError{Code: string(jobErr.Code), Message: jobErr.Error(), Status: http.StatusGatewayTimeout}
		default:
			return &AppError{Code: string(jobErr.Code), Message: jobErr.Error(), Status: http.StatusInternalServerError}
		}
	}

	return NewInternalServer("An unexpected error occurred")
}
