package ports

import (
	"context"

	"github.com/tenantdesk/exojobs/internal/domain"
)

// AuditRepository defines the interface for audit log persistence.
// Records are append-only: there is no update or delete.
type AuditRepository interface {
	// Record inserts one audit row and returns its id.
	// A storage failure is returned as an AUDIT_WRITE_FAILED JobError.
	Record(ctx context.Context, jobID, action string, status domain.AuditStatus, details string) (string, error)

	// List returns the most recent records, newest first.
	// limit <= 0 falls back to domain.DefaultAuditListLimit.
	List(ctx context.Context, limit int) ([]domain.AuditRecord, error)

	// ListByJob returns every record of one job, oldest first
	ListByJob(ctx context.Context, jobID string) ([]domain.AuditRecord, error)

	// Close releases the underlying connection
	Close() error
}
