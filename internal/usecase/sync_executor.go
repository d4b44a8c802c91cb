package usecase

import (
	"context"

	"github.com/tenantdesk/exojobs/internal/domain"
)

// SyncExecutor runs jobs in the caller's goroutine
type SyncExecutor struct {
	attempts *AttemptRunner
}

// NewSyncExecutor creates a synchronous executor
func NewSyncExecutor(attempts *AttemptRunner) *SyncExecutor {
	return &SyncExecutor{attempts: attempts}
}

// ExecuteSync runs req to completion. Domain failures come back as
// {success:false}; the error is set only when the audit trail could not be written.
func (e *SyncExecutor) ExecuteSync(ctx context.Context, req domain.JobRequest) (domain.JobOutcome, error) {
	return e.attempts.Run(ctx, req.WithID(), ModeSync)
}
