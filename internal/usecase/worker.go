package usecase

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/infrastructure/service/metrics"
	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

// WorkerConfig configures the pull loops of a worker process
type WorkerConfig struct {
	Consumer    string
	Concurrency int
	PollWait    time.Duration
	// ErrorBackoff is the pause after the queue itself returned an error
	ErrorBackoff time.Duration
}

// Worker consumes the queue and runs each delivery through the shared attempt lifecycle
type Worker struct {
	queue    ports.JobQueue
	attempts *AttemptRunner
	audits   ports.AuditRepository
	config   WorkerConfig
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// NewWorker creates a worker
func NewWorker(queue ports.JobQueue, attempts *AttemptRunner, audits ports.AuditRepository, config WorkerConfig, log logger.Logger, m *metrics.Metrics) *Worker {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.PollWait <= 0 {
		config.PollWait = 5 * time.Second
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = time.Second
	}
	if config.Consumer == "" {
		config.Consumer = "worker"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		queue:    queue,
		attempts: attempts,
		audits:   audits,
		config:   config,
		logger:   log.WithFields(map[string]interface{}{"consumer": config.Consumer}),
		metrics:  m,
	}
}

// Run blocks until ctx is cancelled. Deliveries already taken are finished
// before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	recovered, err := w.queue.Recover(ctx, w.config.Consumer)
	if err != nil {
		w.logger.Error(ctx, "Failed to recover unfinished deliveries", err, nil)
	} else if recovered > 0 {
		w.logger.Warn(ctx, "Recovered unfinished deliveries", map[string]interface{}{"count": recovered})
	}

	w.logger.Info(ctx, "Worker started", map[string]interface{}{"concurrency": w.config.Concurrency})

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.config.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			return w.loop(gctx, slot)
		})
	}
	err = g.Wait()

	w.logger.Info(ctx, "Worker stopped", nil)
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		delivery, err := w.queue.Dequeue(ctx, w.config.Consumer, w.config.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error(ctx, "Dequeue failed", err, map[string]interface{}{"slot": slot})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.config.ErrorBackoff):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		// in-flight work finishes even when shutdown has begun
		w.Process(context.WithoutCancel(ctx), delivery)
	}
}

// Process runs one delivery and settles it with the queue.
// Every branch leaves exactly one terminal audit record per attempt.
func (w *Worker) Process(ctx context.Context, d *ports.Delivery) {
	if d.DecodeErr != nil {
		w.rejectUndecodable(ctx, d)
		return
	}

	log := w.logger.WithFields(map[string]interface{}{
		"job_id":     d.Request.ID,
		"action":     d.Request.Action,
		"message_id": d.MessageID,
		"attempt":    d.Attempt,
	})

	outcome, err := w.attempts.Run(ctx, d.Request, ModeQueued)
	if err != nil {
		// the audit trail is incomplete; let the queue deliver it again
		w.nack(ctx, log, d, err.Error())
		return
	}

	if outcome.Success {
		if err := w.queue.Ack(ctx, w.config.Consumer, d); err != nil {
			log.Error(ctx, "Ack failed", err, nil)
		}
		return
	}

	w.nack(ctx, log, d, outcome.Error)
}

func (w *Worker) nack(ctx context.Context, log logger.Logger, d *ports.Delivery, reason string) {
	requeued, err := w.queue.Nack(ctx, w.config.Consumer, d, reason)
	if err != nil {
		log.Error(ctx, "Nack failed", err, nil)
		return
	}

	if requeued {
		w.metrics.Retried(d.Request.Action)
		log.Warn(ctx, "Job attempt failed, retry scheduled", map[string]interface{}{
			"max_attempts": d.MaxAttempts,
			"reason":       reason,
		})
		return
	}

	w.metrics.Exhausted(d.Request.Action)
	log.Error(ctx, "Job failed after exhausting retries", fmt.Errorf("%s", reason), map[string]interface{}{
		"max_attempts": d.MaxAttempts,
	})
}

// rejectUndecodable audits a payload that never became a JobRequest and drops it
func (w *Worker) rejectUndecodable(ctx context.Context, d *ports.Delivery) {
	jobID := d.Request.ID
	if jobID == "" {
		jobID = domain.UnknownSentinel
	}
	action := d.Request.Action
	if action == "" {
		action = domain.UnknownSentinel
	}

	w.metrics.DecodeFailed()
	log := w.logger.WithFields(map[string]interface{}{
		"job_id":     jobID,
		"action":     action,
		"message_id": d.MessageID,
	})

	details := fmt.Sprintf("invalid job payload: %v", d.DecodeErr)
	if _, err := w.audits.Record(ctx, jobID, action, domain.AuditStatusFailed, details); err != nil {
		w.metrics.AuditWriteFailed(string(domain.AuditStatusFailed))
		log.Error(ctx, "Audit write failed for undecodable payload", err, nil)
		// the payload can never run, so keep it where an operator can find it
		if err := w.queue.Bury(ctx, w.config.Consumer, d, details); err != nil {
			log.Error(ctx, "Bury failed", err, nil)
		}
		return
	}

	log.Error(ctx, "Dropped undecodable payload", d.DecodeErr, nil)
	if err := w.queue.Ack(ctx, w.config.Consumer, d); err != nil {
		log.Error(ctx, "Ack failed", err, nil)
	}
}
