package response

import (
	"encoding/json"
	"net/http"

	apperror "github.com/tenantdesk/exojobs/pkg/error"
)

// ErrorEnvelope is the body of every non-2xx response
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(payload)
}

// Write renders an AppError as the error envelope
func Write(w http.ResponseWriter, appErr *apperror.AppError) {
	WriteJSON(w, appErr.Status, ErrorEnvelope{Success: false, Error: appErr.Message, Code: appErr.Code})
}

// AppError writes err after mapping it to an HTTP status
func AppError(w http.ResponseWriter, err error) {
	Write(w, apperror.MapError(err))
}

func BadRequest(w http.ResponseWriter, message string) {
	Write(w, apperror.NewBadRequest(message))
}

func Unauthorized(w http.ResponseWriter, message string) {
	Write(w, apperror.NewUnauthorized(message))
}

func Forbidden(w http.ResponseWriter, message string) {
	Write(w, apperror.NewForbidden(message))
}

func NotFound(w http.ResponseWriter, message string) {
	Write(w, apperror.NewNotFound(message))
}

func MethodNotAllowed(w http.ResponseWriter) {
	Write(w, apperror.ErrMethodNotAllowed)
}

func TooManyRequests(w http.ResponseWriter, message string) {
	Write(w, apperror.NewTooManyRequests(message))
}

func QueueUnavailable(w http.ResponseWriter, message string) {
	Write(w, apperror.NewQueueUnavailable(message))
}

func InternalServerError(w http.ResponseWriter, message string) {
	Write(w, apperror.NewInternalServer(message))
}
