package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

// dialect captures what differs between the SQL engines backing the audit store
type dialect struct {
	name   string
	schema []string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
	// encodeTime converts a record timestamp into the column value
	encodeTime func(time.Time) interface{}
}

const (
	insertAuditQuery = `
		INSERT INTO audits (id, "jobId", action, status, details, "createdAt")
		VALUES (?, ?, ?, ?, ?, ?)
	`

	listAuditsQuery = `
		SELECT id, "jobId", action, status, details, "createdAt"
		FROM audits
		ORDER BY "createdAt" DESC, id DESC
		LIMIT ?
	`

	listJobAuditsQuery = `
		SELECT id, "jobId", action, status, details, "createdAt"
		FROM audits
		WHERE "jobId" = ?
		ORDER BY "createdAt" ASC, id ASC
	`
)

// SQLAuditRepository implements ports.AuditRepository over database/sql
type SQLAuditRepository struct {
	db      *sql.DB
	dialect dialect

	initMu      sync.Mutex
	initialized bool

	clockMu sync.Mutex
	now     func() time.Time
	last    time.Time
}

// Option customises a SQLAuditRepository
type Option func(*SQLAuditRepository)

// WithClock replaces the wall clock used to stamp records
func WithClock(now func() time.Time) Option {
	return func(r *SQLAuditRepository) {
		if now != nil {
			r.now = now
		}
	}
}

func newSQLAuditRepository(db *sql.DB, d dialect, opts ...Option) *SQLAuditRepository {
	r := &SQLAuditRepository{
		db:      db,
		dialect: d,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ ports.AuditRepository = (*SQLAuditRepository)(nil)

// ensureSchema creates the table on first use. A failed attempt is retried
// by the next caller.
func (r *SQLAuditRepository) ensureSchema(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.initialized {
		return nil
	}

	for _, stmt := range r.dialect.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize %s audit schema: %w", r.dialect.name, err)
		}
	}

	r.initialized = true
	return nil
}

// Migrate creates the audits table and its indexes ahead of the first write
func (r *SQLAuditRepository) Migrate(ctx context.Context) error {
	return r.ensureSchema(ctx)
}

// nextTimestamp returns a strictly increasing microsecond timestamp
func (r *SQLAuditRepository) nextTimestamp() time.Time {
	r.clockMu.Lock()
	defer r.clockMu.Unlock()

	ts := r.now().UTC().Truncate(time.Microsecond)
	if !ts.After(r.last) {
		ts = r.last.Add(time.Microsecond)
	}
	r.last = ts
	return ts
}

// Record appends one audit row
func (r *SQLAuditRepository) Record(ctx context.Context, jobID, action string, status domain.AuditStatus, details string) (string, error) {
	if !status.IsValid() {
		return "", domain.ErrAuditWrite(jobID, status, fmt.Errorf("%w: %q", domain.ErrInvalidAuditStatus, status))
	}

	if err := r.ensureSchema(ctx); err != nil {
		return "", domain.ErrAuditWrite(jobID, status, err)
	}

	createdAt := r.nextTimestamp()
	id := newRecordID(createdAt)

	_, err := r.db.ExecContext(ctx, r.rebind(insertAuditQuery),
		id,
		jobID,
		action,
		string(status),
		details,
		r.dialect.encodeTime(createdAt),
	)
	if err != nil {
		return "", domain.ErrAuditWrite(jobID, status, err)
	}

	return id, nil
}

// List returns the newest records first
func (r *SQLAuditRepository) List(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = domain.DefaultAuditListLimit
	}

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(listAuditsQuery), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	defer rows.Close()

	return scanAudits(rows)
}

// ListByJob returns the lifecycle of one job, oldest first
func (r *SQLAuditRepository) ListByJob(ctx context.Context, jobID string) ([]domain.AuditRecord, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(listJobAuditsQuery), jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits for job %s: %w", jobID, err)
	}
	defer rows.Close()

	return scanAudits(rows)
}

// Close closes the database handle
func (r *SQLAuditRepository) Close() error {
	return r.db.Close()
}

func (r *SQLAuditRepository) rebind(query string) string {
	if !r.dialect.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func scanAudits(rows *sql.Rows) ([]domain.AuditRecord, error) {
	records := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var (
			rec       domain.AuditRecord
			status    string
			details   sql.NullString
			createdAt interface{}
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Action, &status, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}

		ts, err := decodeTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to decode createdAt of audit %s: %w", rec.ID, err)
		}

		rec.Status = domain.AuditStatus(status)
		rec.Details = details.String
		rec.CreatedAt = ts
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audits: %w", err)
	}

	return records, nil
}

// decodeTime accepts unix microseconds (SQLite) or a native timestamp (PostgreSQL)
func decodeTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case int64:
		return time.UnixMicro(t).UTC(), nil
	case []byte:
		return parseTimeText(string(t))
	case string:
		return parseTimeText(t)
	case nil:
		return time.Time{}, fmt.Errorf("createdAt is null")
	}
	return time.Time{}, fmt.Errorf("unsupported createdAt type %T", v)
}

func parseTimeText(s string) (time.Time, error) {
	if micros, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMicro(micros).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
