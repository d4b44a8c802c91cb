package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tenantdesk/exojobs/internal/config"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS audits (
			id TEXT PRIMARY KEY,
			"jobId" TEXT NOT NULL,
			action TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('started','completed','failed')),
			details TEXT NOT NULL DEFAULT '',
			"createdAt" TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audits_created_at ON audits("createdAt" DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audits_job_id ON audits("jobId", "createdAt")`,
	},
	encodeTime: func(t time.Time) interface{} {
		return t
	},
}

// OpenPostgres connects to PostgreSQL and checks the connection
func OpenPostgres(ctx context.Context, cfg config.AuditConfig, opts ...Option) (*SQLAuditRepository, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections / 2)
	}
	db.SetConnMaxLifetime(cfg.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newSQLAuditRepository(db, postgresDialect, opts...), nil
}

// NewPostgresAuditRepository wraps an already opened PostgreSQL handle
func NewPostgresAuditRepository(db *sql.DB, opts ...Option) *SQLAuditRepository {
	return newSQLAuditRepository(db, postgresDialect, opts...)
}

// OpenAuditRepository opens the audit store selected by cfg.Driver
func OpenAuditRepository(ctx context.Context, cfg config.AuditConfig, opts ...Option) (*SQLAuditRepository, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return OpenSQLite(cfg.Path, opts...)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg, opts...)
	}
	return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
}
