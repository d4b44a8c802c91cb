package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/infrastructure/service/metrics"
	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

// Enqueuer is the producer side of the queued path
type Enqueuer struct {
	queue   ports.JobQueue
	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewEnqueuer creates a producer for queue
func NewEnqueuer(queue ports.JobQueue, log logger.Logger, m *metrics.Metrics) *Enqueuer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Enqueuer{queue: queue, logger: log, metrics: m}
}

// Enqueue assigns a job id and persists the request without executing it.
// Unknown actions are accepted here and fail in the worker, like in the sync path.
func (e *Enqueuer) Enqueue(ctx context.Context, req domain.JobRequest) (domain.QueueHandle, error) {
	if strings.TrimSpace(req.Action) == "" {
		return domain.QueueHandle{}, domain.ErrInvalidParams("enqueue", "action is required")
	}

	req = req.WithID()
	handle, err := e.queue.Enqueue(ctx, req)
	if err != nil {
		e.logger.Error(ctx, "Failed to enqueue job", err, map[string]interface{}{
			"job_id": req.ID,
			"action": req.Action,
		})
		return domain.QueueHandle{}, fmt.Errorf("failed to enqueue job %s: %w", req.ID, err)
	}

	e.metrics.Enqueued(req.Action)
	e.logger.Info(ctx, "Job enqueued", map[string]interface{}{
		"job_id":     handle.JobID,
		"action":     req.Action,
		"message_id": handle.MessageID,
		"queue":      handle.Queue,
	})
	return handle, nil
}
