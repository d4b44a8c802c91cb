package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

// ErrQueueClosed is returned by operations on a closed queue
var ErrQueueClosed = errors.New("queue is closed")

type delayedItem struct {
	raw string
	due time.Time
}

// MemoryQueue is an in-process JobQueue with the same bookkeeping as the
// Redis queue: a wait list, one active list per consumer and a delayed set.
type MemoryQueue struct {
	config Config

	mu      sync.Mutex
	wait    []string
	active  map[string][]string
	delayed []delayedItem
	failed  []string
	closed  bool
	notify  chan struct{}
	now     func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue(config Config) *MemoryQueue {
	return &MemoryQueue{
		config: config.normalized(),
		active: make(map[string][]string),
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

var _ ports.JobQueue = (*MemoryQueue)(nil)

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue appends req to the wait list
func (q *MemoryQueue) Enqueue(ctx context.Context, req domain.JobRequest) (domain.QueueHandle, error) {
	at := q.now()
	raw, msg, err := encodeMessage(req, at)
	if err != nil {
		return domain.QueueHandle{}, err
	}
	if err := q.EnqueueRaw(ctx, raw); err != nil {
		return domain.QueueHandle{}, err
	}
	return domain.QueueHandle{JobID: req.ID, MessageID: msg.ID, Queue: q.config.Name, EnqueuedAt: at}, nil
}

// EnqueueRaw stores a payload exactly as given
func (q *MemoryQueue) EnqueueRaw(ctx context.Context, raw string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.wait = append(q.wait, raw)
	q.signal()
	return nil
}

// Dequeue waits up to wait for a delivery
func (q *MemoryQueue) Dequeue(ctx context.Context, consumer string, wait time.Duration) (*ports.Delivery, error) {
	deadline := q.now().Add(wait)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.promoteDueLocked()
		if len(q.wait) > 0 {
			raw := q.wait[0]
			q.wait = q.wait[1:]
			q.active[consumer] = append(q.active[consumer], raw)
			q.mu.Unlock()
			return newDelivery(raw, q.config.Attempts), nil
		}

		sleep := deadline.Sub(q.now())
		for _, item := range q.delayed {
			if until := item.due.Sub(q.now()); until < sleep {
				sleep = until
			}
		}
		q.mu.Unlock()

		if sleep <= 0 {
			if !q.now().Before(deadline) {
				return nil, nil
			}
			continue
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) promoteDueLocked() {
	if len(q.delayed) == 0 {
		return
	}
	now := q.now()
	kept := q.delayed[:0]
	for _, item := range q.delayed {
		if !item.due.After(now) {
			q.wait = append(q.wait, item.raw)
			continue
		}
		kept = append(kept, item)
	}
	q.delayed = kept
}

func (q *MemoryQueue) removeActiveLocked(consumer, raw string) bool {
	list := q.active[consumer]
	for i, item := range list {
		if item == raw {
			q.active[consumer] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Ack removes a finished delivery
func (q *MemoryQueue) Ack(ctx context.Context, consumer string, d *ports.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeActiveLocked(consumer, d.Raw)
	return nil
}

// Nack schedules another attempt, or drops the job once attempts are exhausted
func (q *MemoryQueue) Nack(ctx context.Context, consumer string, d *ports.Delivery, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}
	q.removeActiveLocked(consumer, d.Raw)

	if d.DecodeErr == nil && d.Attempt < q.config.Attempts {
		next, attempt, err := nextAttempt(d.Raw)
		if err == nil {
			delay := retryDelay(q.config.Backoff, attempt-1)
			if delay <= 0 {
				q.wait = append(q.wait, next)
			} else {
				q.delayed = append(q.delayed, delayedItem{raw: next, due: q.now().Add(delay)})
			}
			q.signal()
			return true, nil
		}
	}

	if q.config.KeepFailed {
		q.keepFailedLocked(d.Raw)
	}
	return false, nil
}

// Bury keeps the delivery on the failed list even when KeepFailed is off
func (q *MemoryQueue) Bury(ctx context.Context, consumer string, d *ports.Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.removeActiveLocked(consumer, d.Raw)
	q.keepFailedLocked(d.Raw)
	return nil
}

func (q *MemoryQueue) keepFailedLocked(raw string) {
	q.failed = append(q.failed, raw)
	if len(q.failed) > failedListCap {
		q.failed = q.failed[len(q.failed)-failedListCap:]
	}
}

// Recover puts everything consumer still holds back at the head of the wait list
func (q *MemoryQueue) Recover(ctx context.Context, consumer string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	held := q.active[consumer]
	if len(held) == 0 {
		return 0, nil
	}
	q.wait = append(append([]string(nil), held...), q.wait...)
	delete(q.active, consumer)
	q.signal()
	return len(held), nil
}

// Close wakes blocked consumers and rejects further work
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.notify)
	}
	return nil
}

// Stats reports the size of each list
type Stats struct {
	Waiting int
	Active  int
	Delayed int
	Failed  int
}

// Stats returns a snapshot of the queue sizes
func (q *MemoryQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	active := 0
	for _, list := range q.active {
		active += len(list)
	}
	return Stats{Waiting: len(q.wait), Active: active, Delayed: len(q.delayed), Failed: len(q.failed)}
}
