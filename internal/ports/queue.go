package ports

import (
	"context"
	"time"

	"github.com/tenantdesk/exojobs/internal/domain"
)

// Delivery is one job handed to a worker by the queue.
// When the payload could not be decoded, DecodeErr is set and Request holds
// whatever could be recovered.
type Delivery struct {
	MessageID   string
	Request     domain.JobRequest
	Attempt     int
	MaxAttempts int
	Raw         string
	DecodeErr   error
}

// JobQueue is a durable, at-least-once work queue
type JobQueue interface {
	// Enqueue persists the request and returns without executing it
	Enqueue(ctx context.Context, req domain.JobRequest) (domain.QueueHandle, error)

	// Dequeue blocks up to wait for the next delivery.
	// It returns nil, nil when nothing arrived in time.
	Dequeue(ctx context.Context, consumer string, wait time.Duration) (*Delivery, error)

	// Ack marks the delivery as done and removes it from the queue
	Ack(ctx context.Context, consumer string, d *Delivery) error

	// Nack reports a failed attempt. The queue's retry policy decides whether
	// the job is delivered again; requeued is false once attempts are exhausted.
	Nack(ctx context.Context, consumer string, d *Delivery, reason string) (requeued bool, err error)

	// Bury moves the delivery to the failed list whatever the retry policy
	// says. It is for payloads that can never run and could not be audited.
	Bury(ctx context.Context, consumer string, d *Delivery, reason string) error

	// Recover moves deliveries a consumer left unfinished back to the wait list
	Recover(ctx context.Context, consumer string) (int, error)

	Close() error
}
