package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

const (
	maxRetryDelay = time.Hour
	failedListCap = 1000
)

// message is the stored form of a queued job
type message struct {
	ID         string          `json:"id"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt int64           `json:"enqueuedAt"`
	Job        json.RawMessage `json:"job"`
}

// Config is the retry policy shared by the queue backends
type Config struct {
	Name       string
	Attempts   int
	Backoff    time.Duration
	KeepFailed bool
	// DialTimeout bounds connecting to Redis; zero keeps the client default
	DialTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.Name == "" {
		c.Name = "exchange-jobs"
	}
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	return c
}

func encodeMessage(req domain.JobRequest, at time.Time) (string, message, error) {
	job, err := json.Marshal(req)
	if err != nil {
		return "", message{}, fmt.Errorf("failed to encode job: %w", err)
	}
	msg := message{
		ID:         uuid.NewString(),
		Attempt:    1,
		EnqueuedAt: at.UnixMilli(),
		Job:        job,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", message{}, fmt.Errorf("failed to encode message: %w", err)
	}
	return string(raw), msg, nil
}

// nextAttempt re-encodes raw with its attempt counter bumped
func nextAttempt(raw string) (string, int, error) {
	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return "", 0, err
	}
	msg.Attempt++
	out, err := json.Marshal(msg)
	if err != nil {
		return "", 0, err
	}
	return string(out), msg.Attempt, nil
}

// newDelivery decodes raw. Undecodable payloads still produce a delivery
// carrying DecodeErr and whatever id and action could be recovered.
func newDelivery(raw string, maxAttempts int) *ports.Delivery {
	d := &ports.Delivery{Raw: raw, Attempt: 1, MaxAttempts: maxAttempts}

	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		d.DecodeErr = fmt.Errorf("malformed message: %w", err)
		d.Request = salvageRequest([]byte(raw))
		return d
	}
	d.MessageID = msg.ID
	if msg.Attempt > 0 {
		d.Attempt = msg.Attempt
	}

	if len(msg.Job) == 0 || string(msg.Job) == "null" {
		d.DecodeErr = errors.New("message has no job")
		return d
	}

	var req domain.JobRequest
	if err := json.Unmarshal(msg.Job, &req); err != nil {
		d.DecodeErr = fmt.Errorf("malformed job: %w", err)
		d.Request = salvageRequest([]byte(raw))
		return d
	}
	if strings.TrimSpace(req.Action) == "" {
		d.DecodeErr = errors.New("job has no action")
		d.Request = req
		return d
	}
	if req.ID == "" {
		req.ID = msg.ID
	}
	d.Request = req
	return d
}

// salvageRequest pulls id and action out of the job object of a message that
// failed strict decoding. Envelope fields are never taken for job fields.
func salvageRequest(raw []byte) domain.JobRequest {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.JobRequest{}
	}
	job, ok := envelope["job"]
	if !ok {
		return domain.JobRequest{}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(job, &fields); err != nil {
		return domain.JobRequest{}
	}

	var req domain.JobRequest
	if v, ok := fields["id"]; ok {
		_ = json.Unmarshal(v, &req.ID)
	}
	if v, ok := fields["action"]; ok {
		_ = json.Unmarshal(v, &req.Action)
	}
	return req
}

// retryDelay doubles base for every attempt already made
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
