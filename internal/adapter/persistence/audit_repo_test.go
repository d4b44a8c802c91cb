package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantdesk/exojobs/internal/config"
	"github.com/tenantdesk/exojobs/internal/domain"
)

func openTestSQLite(t *testing.T, opts ...Option) *SQLAuditRepository {
	t.Helper()
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func expectPostgresSchema(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audits").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audits_created_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_audits_job_id").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestPostgresRecord_UsesNumberedPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAuditRepository(db)

	expectPostgresSchema(mock)
	mock.ExpectExec(`INSERT INTO audits .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs(sqlmock.AnyArg(), "job-1", "Get-OrganizationConfig", "started", "{}", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := repo.Record(context.Background(), "job-1", "Get-OrganizationConfig", domain.AuditStatusStarted, "{}")
	require.NoError(t, err)
	assert.Len(t, id, 26)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecord_InsertFailureIsAuditWriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAuditRepository(db)
	dbErr := errors.New("connection reset by peer")

	expectPostgresSchema(mock)
	mock.ExpectExec("INSERT INTO audits").WillReturnError(dbErr)

	_, err = repo.Record(context.Background(), "job-1", "Get-OrganizationConfig", domain.AuditStatusCompleted, "{}")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeAuditWrite))
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "failed to write completed audit record for job job-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSchemaInit_RetriedAfterFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAuditRepository(db)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audits").WillReturnError(errors.New("database is starting up"))
	expectPostgresSchema(mock)
	mock.ExpectExec("INSERT INTO audits").WillReturnResult(sqlmock.NewResult(1, 1))

	_, err = repo.Record(context.Background(), "job-1", "Get-AcceptedDomain", domain.AuditStatusStarted, "{}")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeAuditWrite))

	_, err = repo.Record(context.Background(), "job-1", "Get-AcceptedDomain", domain.AuditStatusStarted, "{}")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate_RunsSchemaOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAuditRepository(db)
	expectPostgresSchema(mock)
	mock.ExpectExec("INSERT INTO audits").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, repo.Migrate(context.Background()))
	_, err = repo.Record(context.Background(), "job-1", "Get-AcceptedDomain", domain.AuditStatusStarted, "{}")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresList_DefaultLimitAndScan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAuditRepository(db)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	expectPostgresSchema(mock)
	mock.ExpectQuery(`ORDER BY "createdAt" DESC, id DESC\s+LIMIT \$1`).
		WithArgs(domain.DefaultAuditListLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "jobId", "action", "status", "details", "createdAt"}).
			AddRow("01B", "job-1", "Get-OrganizationConfig", "completed", `{"Name":"contoso"}`, at.Add(time.Second)).
			AddRow("01A", "job-1", "Get-OrganizationConfig", "started", "{}", at))

	records, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.AuditStatusCompleted, records[0].Status)
	assert.Equal(t, at.Add(time.Second), records[0].CreatedAt)
	assert.Equal(t, "{}", records[1].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresList_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresAuditRepository(db)

	expectPostgresSchema(mock)
	mock.ExpectQuery("FROM audits").WillReturnError(errors.New("relation does not exist"))

	_, err = repo.List(context.Background(), 5)
	assert.EqualError(t, err, "failed to list audits: relation does not exist")
}

func TestSQLiteList_OrderingAndBound(t *testing.T) {
	// a frozen clock forces the store to break ties itself
	repo := openTestSQLite(t, WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := repo.Record(ctx, fmt.Sprintf("job-%d", i), "Get-OrganizationConfig", domain.AuditStatusStarted, "{}")
		require.NoError(t, err)
	}

	records, err := repo.List(ctx, 5)
	require.NoError(t, err)
	require.Len(t, records, 5)

	for i := 1; i < len(records); i++ {
		assert.True(t, records[i-1].CreatedAt.After(records[i].CreatedAt),
			"record %d (%s) should be newer than record %d (%s)", i-1, records[i-1].CreatedAt, i, records[i].CreatedAt)
	}
	assert.Equal(t, "job-9", records[0].JobID)
	assert.Equal(t, "job-5", records[4].JobID)
}

func TestSQLiteList_EmptyIsNotNil(t *testing.T) {
	repo := openTestSQLite(t)

	records, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	byJob, err := repo.ListByJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, byJob)
	assert.Empty(t, byJob)
}

func TestSQLiteListByJob_Lifecycle(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()

	_, err := repo.Record(ctx, "job-a", "Get-Mailbox", domain.AuditStatusStarted, `{"resultSize":10}`)
	require.NoError(t, err)
	_, err = repo.Record(ctx, "job-b", "Get-Mailbox", domain.AuditStatusStarted, "{}")
	require.NoError(t, err)
	_, err = repo.Record(ctx, "job-a", "Get-Mailbox", domain.AuditStatusFailed, "command exited with code 1")
	require.NoError(t, err)

	records, err := repo.ListByJob(ctx, "job-a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.AuditStatusStarted, records[0].Status)
	assert.Equal(t, `{"resultSize":10}`, records[0].Details)
	assert.Equal(t, domain.AuditStatusFailed, records[1].Status)
	assert.Equal(t, "command exited with code 1", records[1].Details)
}

func TestSQLiteRecord_InvalidStatusRejected(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()

	_, err := repo.Record(ctx, "job-1", "Get-Mailbox", domain.AuditStatus("retrying"), "")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeAuditWrite))
	assert.ErrorIs(t, err, domain.ErrInvalidAuditStatus)

	records, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLiteRecord_ConcurrentWriters(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Record(ctx, fmt.Sprintf("job-%d", i), "Get-TransportRule", domain.AuditStatusStarted, "{}")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	records, err := repo.List(ctx, 100)
	require.NoError(t, err)
	require.Len(t, records, writers)

	seen := make(map[string]bool)
	for _, r := range records {
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestSQLiteRecord_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	ctx := context.Background()

	repo, err := OpenAuditRepository(ctx, config.AuditConfig{Driver: config.DriverSQLite, Path: path})
	require.NoError(t, err)
	id, err := repo.Record(ctx, "job-1", "Get-OrganizationConfig", domain.AuditStatusCompleted, `{"ok":true}`)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
}

func TestNextTimestamp_StrictlyIncreasing(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newSQLAuditRepository(nil, sqliteDialect, WithClock(fixedClock(at)))

	first := repo.nextTimestamp()
	second := repo.nextTimestamp()
	assert.Equal(t, at, first)
	assert.Equal(t, at.Add(time.Microsecond), second)
}

func TestOpenAuditRepository_UnknownDriver(t *testing.T) {
	_, err := OpenAuditRepository(context.Background(), config.AuditConfig{Driver: "mongo"})
	assert.EqualError(t, err, `unknown audit driver "mongo"`)
}

func TestDecodeTime(t *testing.T) {
	at := time.Date(2026, 5, 4, 3, 2, 1, 123456000, time.UTC)

	got, err := decodeTime(at.UnixMicro())
	require.NoError(t, err)
	assert.Equal(t, at, got)

	got, err = decodeTime([]byte(at.Format(time.RFC3339Nano)))
	require.NoError(t, err)
	assert.Equal(t, at, got)

	_, err = decodeTime(nil)
	assert.Error(t, err)
}
