package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/infrastructure/service/metrics"
	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

// Execution modes recorded on logs, spans and metrics
const (
	ModeSync   = "sync"
	ModeQueued = "queued"
)

// AttemptRunner drives one attempt through started -> dispatch -> completed|failed.
// Both executors share it so their audit trails are identical.
type AttemptRunner struct {
	audits     ports.AuditRepository
	dispatcher ports.Dispatcher
	logger     logger.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// NewAttemptRunner creates an AttemptRunner. logger and metrics may be nil.
func NewAttemptRunner(audits ports.AuditRepository, dispatcher ports.Dispatcher, log logger.Logger, m *metrics.Metrics) *AttemptRunner {
	if log == nil {
		log = logger.NewNop()
	}
	return &AttemptRunner{
		audits:     audits,
		dispatcher: dispatcher,
		logger:     log,
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
	}
}

// Run executes one attempt of req. Job failures are reported in the
// outcome; the returned error is only set when an audit record could not be
// written.
func (r *AttemptRunner) Run(ctx context.Context, req domain.JobRequest, mode string) (domain.JobOutcome, error) {
	attempt := domain.NewAttempt(req)
	jobID := attempt.Request.ID
	action := attempt.Request.Action

	ctx, span := r.tracer.Start(ctx, "job.attempt", trace.WithAttributes(
		attribute.String("exojobs.job_id", jobID),
		attribute.String("exojobs.action", action),
		attribute.String("exojobs.mode", mode),
	))
	defer span.End()

	log := r.logger.WithFields(map[string]interface{}{
		"job_id": jobID,
		"action": action,
		"mode":   mode,
	})
	started := time.Now()

	if err := attempt.Transition(domain.AttemptRunning); err != nil {
		return domain.FailedOutcome(jobID, err), err
	}
	if err := r.record(ctx, log, attempt, encodeDetails(attempt.Request.Params)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.FailedOutcome(jobID, err), err
	}
	r.metrics.AttemptStarted(action, mode)
	log.Info(ctx, "Job started", nil)

	result, dispatchErr := r.dispatch(ctx, attempt.Request)

	var (
		outcome domain.JobOutcome
		details string
	)
	if dispatchErr != nil {
		_ = attempt.Transition(domain.AttemptFailed)
		outcome = domain.FailedOutcome(jobID, dispatchErr)
		details = dispatchErr.Error()
		span.RecordError(dispatchErr)
		span.SetStatus(codes.Error, dispatchErr.Error())
	} else {
		_ = attempt.Transition(domain.AttemptSucceeded)
		outcome = domain.SucceededOutcome(jobID, result)
		details = encodeDetails(result)
	}

	if err := r.record(ctx, log, attempt, details); err != nil {
		span.RecordError(err)
		return outcome, err
	}
	r.metrics.AttemptFinished(action, mode, outcome.Success, started)

	fields := map[string]interface{}{"duration_ms": time.Since(started).Milliseconds()}
	if dispatchErr != nil {
		fields["error_code"] = string(domain.Code(dispatchErr))
		log.Error(ctx, "Job failed", dispatchErr, fields)
	} else {
		logger.LogPerformance(ctx, log, "job.attempt", time.Since(started), fields)
		log.Info(ctx, "Job completed", nil)
	}

	return outcome, nil
}

// dispatch converts a panic inside the dispatcher into a failed attempt
func (r *AttemptRunner) dispatch(ctx context.Context, req domain.JobRequest) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.dispatcher.Dispatch(ctx, req.Action, req.Params)
}

func (r *AttemptRunner) record(ctx context.Context, log logger.Logger, attempt *domain.Attempt, details string) error {
	status, ok := attempt.State.AuditStatus()
	if !ok {
		return domain.ErrAuditWrite(attempt.Request.ID, status, fmt.Errorf("attempt state %s is not audited", attempt.State))
	}

	// a cancelled caller must not prevent the terminal record
	writeCtx := ctx
	if status.IsTerminal() {
		writeCtx = context.WithoutCancel(ctx)
	}

	if _, err := r.audits.Record(writeCtx, attempt.Request.ID, attempt.Request.Action, status, details); err != nil {
		r.metrics.AuditWriteFailed(string(status))
		log.Error(ctx, "Audit write failed", err, map[string]interface{}{"status": string(status)})
		if domain.IsCode(err, domain.ErrCodeAuditWrite) {
			return err
		}
		return domain.ErrAuditWrite(attempt.Request.ID, status, err)
	}
	return nil
}

// encodeDetails renders v as JSON for the details column; nil params become {}
func encodeDetails(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "{}"
	case map[string]interface{}:
		if t == nil {
			return "{}"
		}
	case string:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
