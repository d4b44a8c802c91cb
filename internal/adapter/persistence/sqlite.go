package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS audits (
			id TEXT PRIMARY KEY,
			"jobId" TEXT NOT NULL,
			action TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('started','completed','failed')),
			details TEXT NOT NULL DEFAULT '',
			"createdAt" INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audits_created_at ON audits("createdAt")`,
		`CREATE INDEX IF NOT EXISTS idx_audits_job_id ON audits("jobId", "createdAt")`,
	},
	encodeTime: func(t time.Time) interface{} {
		return t.UnixMicro()
	},
}

// OpenSQLite opens (creating if needed) a single-file audit store.
// The schema is created lazily on first use.
func OpenSQLite(path string, opts ...Option) (*SQLAuditRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite audit path is required")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	dsn := fmt.Sprintf("file:%s?%s", path, params.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	return newSQLAuditRepository(db, sqliteDialect, opts...), nil
}

// NewSQLiteAuditRepository wraps an already opened SQLite handle
func NewSQLiteAuditRepository(db *sql.DB, opts ...Option) *SQLAuditRepository {
	return newSQLAuditRepository(db, sqliteDialect, opts...)
}

// Ping verifies the database file can be reached
func (r *SQLAuditRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
