package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantdesk/exojobs/internal/domain"
)

func TestNewDelivery(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantErr    bool
		wantID     string
		wantAction string
		wantTry    int
	}{
		{
			name:       "valid",
			raw:        `{"id":"m1","attempt":2,"job":{"id":"job-1","action":"Get-Mailbox","params":{"identity":"alice"}}}`,
			wantID:     "job-1",
			wantAction: "Get-Mailbox",
			wantTry:    2,
		},
		{
			name:       "job without id takes the message id",
			raw:        `{"id":"m1","attempt":1,"job":{"action":"Get-Mailbox"}}`,
			wantID:     "m1",
			wantAction: "Get-Mailbox",
			wantTry:    1,
		},
		{
			name:    "not json",
			raw:     `definitely not json`,
			wantErr: true,
			wantTry: 1,
		},
		{
			name:    "bare request without wrapper is not salvaged",
			raw:     `{"id":"job-7","action":"Get-OrganizationConfig"}`,
			wantErr: true,
			wantTry: 1,
		},
		{
			name:    "missing job never borrows the message id",
			raw:     `{"id":"m1","attempt":1}`,
			wantErr: true,
			wantTry: 1,
		},
		{
			name:       "broken envelope salvages from the job object",
			raw:        `{"id":"m1","attempt":"one","job":{"id":"job-4","action":"Get-Mailbox"}}`,
			wantErr:    true,
			wantID:     "job-4",
			wantAction: "Get-Mailbox",
			wantTry:    1,
		},
		{
			name:    "job without action",
			raw:     `{"id":"m1","attempt":1,"job":{"id":"job-2"}}`,
			wantErr: true,
			wantID:  "job-2",
			wantTry: 1,
		},
		{
			name:       "params of the wrong type",
			raw:        `{"id":"m1","attempt":1,"job":{"id":"job-3","action":"Get-Mailbox","params":[1,2]}}`,
			wantErr:    true,
			wantID:     "job-3",
			wantAction: "Get-Mailbox",
			wantTry:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDelivery(tt.raw, 3)
			assert.Equal(t, tt.raw, d.Raw)
			assert.Equal(t, 3, d.MaxAttempts)
			assert.Equal(t, tt.wantTry, d.Attempt)
			assert.Equal(t, tt.wantErr, d.DecodeErr != nil, "decode error: %v", d.DecodeErr)
			assert.Equal(t, tt.wantID, d.Request.ID)
			assert.Equal(t, tt.wantAction, d.Request.Action)
		})
	}
}

func TestEncodeMessage_RoundTrip(t *testing.T) {
	req := domain.JobRequest{ID: "job-1", Action: "Get-MailboxStatistics", Params: map[string]interface{}{"identity": "bob@contoso.com"}}
	raw, msg, err := encodeMessage(req, time.Now())
	require.NoError(t, err)

	d := newDelivery(raw, 1)
	require.NoError(t, d.DecodeErr)
	assert.Equal(t, msg.ID, d.MessageID)
	assert.Equal(t, req, d.Request)

	next, attempt, err := nextAttempt(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, 2, newDelivery(next, 1).Attempt)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryDelay(0, 3))
	assert.Equal(t, time.Second, retryDelay(time.Second, 1))
	assert.Equal(t, 2*time.Second, retryDelay(time.Second, 2))
	assert.Equal(t, 8*time.Second, retryDelay(time.Second, 4))
	assert.Equal(t, maxRetryDelay, retryDelay(time.Minute, 30))
}
