package domain

import (
	"time"

	"github.com/google/uuid"
)

// UnknownSentinel is used for job id and action when a queued payload
// cannot be decoded far enough to recover them.
const UnknownSentinel = "unknown"

// JobRequest represents one request to perform a privileged action
type JobRequest struct {
	ID     string                 `json:"id,omitempty"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// NewJobRequest creates a job request with a freshly generated id
func NewJobRequest(action string, params map[string]interface{}) JobRequest {
	return JobRequest{
		ID:     generateID(),
		Action: action,
		Params: params,
	}
}

// WithID returns a copy of the request that is guaranteed to carry an id.
func (r JobRequest) WithID() JobRequest {
	if r.ID == "" {
		r.ID = generateID()
	}
	return r
}

// JobOutcome is the structured result handed back to callers of an executor
type JobOutcome struct {
	Success bool        `json:"success"`
	JobID   string      `json:"jobId"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SucceededOutcome builds a successful outcome
func SucceededOutcome(jobID string, result interface{}) JobOutcome {
	return JobOutcome{Success: true, JobID: jobID, Result: result}
}

// FailedOutcome builds a failed outcome from a job error
func FailedOutcome(jobID string, err error) JobOutcome {
	return JobOutcome{Success: false, JobID: jobID, Error: err.Error()}
}

// QueueHandle is returned by the producer once a job has been persisted
type QueueHandle struct {
	JobID      string    `json:"jobId"`
	MessageID  string    `json:"messageId"`
	Queue      string    `json:"queue"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func generateID() string {
	return uuid.NewString()
}
