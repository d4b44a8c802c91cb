package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/ports"
)

func TestExecuteSync_OrganizationConfigSucceeds(t *testing.T) {
	audits := newMemoryAudits()
	runner := succeedWith(`{"Name":"Contoso"}`)
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: ActionGetOrganizationConfig})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.NotEmpty(t, outcome.JobID)
	assert.Equal(t, map[string]interface{}{"Name": "Contoso"}, outcome.Result)
	assert.Empty(t, outcome.Error)

	records := audits.all()
	require.Len(t, records, 2)
	assert.Equal(t, outcome.JobID, records[0].JobID)
	assert.Equal(t, outcome.JobID, records[1].JobID)
	assert.Equal(t, domain.AuditStatusStarted, records[0].Status)
	assert.Equal(t, "{}", records[0].Details)
	assert.Equal(t, domain.AuditStatusCompleted, records[1].Status)
	assert.JSONEq(t, `{"Name":"Contoso"}`, records[1].Details)
	assert.Equal(t, 1, runner.callCount())
}

func TestExecuteSync_UnknownActionNeverSpawns(t *testing.T) {
	audits := newMemoryAudits()
	runner := succeedWith(`{}`)
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: "Delete-Everything"})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "Delete-Everything")
	assert.Equal(t, 0, runner.callCount())

	records := audits.all()
	require.Len(t, records, 2)
	assert.Equal(t, domain.AuditStatusStarted, records[0].Status)
	assert.Equal(t, domain.AuditStatusFailed, records[1].Status)
	assert.Contains(t, records[1].Details, "Delete-Everything")
	assert.Equal(t, "Delete-Everything", records[1].Action)
}

func TestExecuteSync_UnknownActionWithoutCredentials(t *testing.T) {
	audits := newMemoryAudits()
	runner := succeedWith(`{}`)
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, ports.Credentials{}))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: "Delete-Everything"})
	require.NoError(t, err)
	assert.Equal(t, `unsupported action "Delete-Everything"`, outcome.Error)
}

func TestExecuteSync_MissingCredentials(t *testing.T) {
	audits := newMemoryAudits()
	runner := succeedWith(`{}`)
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, ports.Credentials{TenantID: "contoso.onmicrosoft.com"}))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: ActionGetOrganizationConfig})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, "missing required configuration: EXO_APP_ID, EXO_CERT_THUMBPRINT", outcome.Error)
	assert.Equal(t, 0, runner.callCount())
	assert.Equal(t, []domain.AuditStatus{domain.AuditStatusStarted, domain.AuditStatusFailed}, audits.statuses(outcome.JobID))
}

func TestExecuteSync_CommandFailure(t *testing.T) {
	audits := newMemoryAudits()
	runner := failWith(domain.ErrCommandFailed(1, "", "Connect-ExchangeOnline: AADSTS700027", nil))
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{ID: "job-42", Action: ActionGetAcceptedDomain})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, "job-42", outcome.JobID)
	assert.Equal(t, "command exited with code 1: Connect-ExchangeOnline: AADSTS700027", outcome.Error)

	records, _ := audits.ListByJob(context.Background(), "job-42")
	require.Len(t, records, 2)
	assert.Equal(t, outcome.Error, records[1].Details)
}

func TestExecuteSync_UnparseableOutputFallsBackToRawText(t *testing.T) {
	audits := newMemoryAudits()
	runner := succeedWith("  WARNING: not json at all\n")
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: ActionGetOrganizationConfig})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, "WARNING: not json at all", outcome.Result)
	assert.Equal(t, []domain.AuditStatus{domain.AuditStatusStarted, domain.AuditStatusCompleted}, audits.statuses(outcome.JobID))
}

func TestExecuteSync_PanicBecomesFailedRecord(t *testing.T) {
	audits := newMemoryAudits()
	runner := &fakeRunner{panicWith: "nil map write"}
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: ActionGetTransportRule})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, "panic: nil map write", outcome.Error)
	assert.Equal(t, []domain.AuditStatus{domain.AuditStatusStarted, domain.AuditStatusFailed}, audits.statuses(outcome.JobID))
}

func TestExecuteSync_StartedWriteFailureStopsDispatch(t *testing.T) {
	audits := newMemoryAudits()
	audits.fail(domain.AuditStatusStarted, errors.New("disk I/O error"))
	runner := succeedWith(`{}`)
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: ActionGetOrganizationConfig})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeAuditWrite))
	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.JobID)
	assert.Equal(t, 0, runner.callCount())
	assert.Empty(t, audits.all())
}

func TestExecuteSync_TerminalWriteFailureSurfaces(t *testing.T) {
	audits := newMemoryAudits()
	audits.fail(domain.AuditStatusCompleted, errors.New("database is locked"))
	runner := succeedWith(`{"Name":"Contoso"}`)
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: ActionGetOrganizationConfig})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeAuditWrite))
	assert.Contains(t, err.Error(), "failed to write completed audit record")
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, runner.callCount())
}

func TestExecuteSync_ParamsAreAudited(t *testing.T) {
	audits := newMemoryAudits()
	runner := succeedWith(`[]`)
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{
		Action: ActionGetMailbox,
		Params: map[string]interface{}{"identity": "alice@contoso.com"},
	})
	require.NoError(t, err)

	records, _ := audits.ListByJob(context.Background(), outcome.JobID)
	require.Len(t, records, 2)
	assert.JSONEq(t, `{"identity":"alice@contoso.com"}`, records[0].Details)
	assert.Equal(t, []interface{}{}, outcome.Result)
}

func TestExecuteSync_ConcurrentJobsAreAuditedCompletely(t *testing.T) {
	audits := newMemoryAudits()
	runner := &fakeRunner{outcomes: []runOutcome{
		{result: ports.CommandResult{Stdout: `{"ok":true}`}},
		{result: ports.CommandResult{ExitCode: 2}, err: domain.ErrCommandFailed(2, "", "", nil)},
	}}
	executor := NewSyncExecutor(newTestAttemptRunner(audits, runner, fullCreds))

	const jobs = 25
	var wg sync.WaitGroup
	ids := make(chan string, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := ActionGetOrganizationConfig
			if i%5 == 0 {
				action = fmt.Sprintf("Unknown-%d", i)
			}
			outcome, err := executor.ExecuteSync(context.Background(), domain.JobRequest{Action: action})
			if err == nil {
				ids <- outcome.JobID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	count := 0
	for id := range ids {
		count++
		statuses := audits.statuses(id)
		require.Len(t, statuses, 2, "job %s", id)
		assert.Equal(t, domain.AuditStatusStarted, statuses[0])
		assert.True(t, statuses[1].IsTerminal())
	}
	assert.Equal(t, jobs, count)
	assert.Len(t, audits.all(), 2*jobs)
}
