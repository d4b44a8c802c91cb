package domain

import "time"

// AuditStatus is the lifecycle event an audit record describes
type AuditStatus string

const (
	AuditStatusStarted   AuditStatus = "started"
	AuditStatusCompleted AuditStatus = "completed"
	AuditStatusFailed    AuditStatus = "failed"
)

// DefaultAuditListLimit is used when a caller does not bound a listing
const DefaultAuditListLimit = 50

// MaxAuditListLimit caps listings requested over HTTP
const MaxAuditListLimit = 1000

// IsValid reports whether the status belongs to the closed set
func (s AuditStatus) IsValid() bool {
	switch s {
	case AuditStatusStarted, AuditStatusCompleted, AuditStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status closes an attempt
func (s AuditStatus) IsTerminal() bool {
	return s == AuditStatusCompleted || s == AuditStatusFailed
}

// AuditRecord is an immutable fact: at CreatedAt, job JobID running Action reached Status.
type AuditRecord struct {
	ID        string      `json:"id"`
	JobID     string      `json:"jobId"`
	Action    string      `json:"action"`
	Status    AuditStatus `json:"status"`
	Details   string      `json:"details"`
	CreatedAt time.Time   `json:"createdAt"`
}
