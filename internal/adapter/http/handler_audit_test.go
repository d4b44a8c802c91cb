package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tenantdesk/exojobs/internal/domain"
)

// MockAuditReader is a mock implementation of AuditReader
type MockAuditReader struct {
	mock.Mock
}

func (m *MockAuditReader) List(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	args := m.Called(ctx, limit)
	records, _ := args.Get(0).([]domain.AuditRecord)
	return records, args.Error(1)
}

func (m *MockAuditReader) ListByJob(ctx context.Context, jobID string) ([]domain.AuditRecord, error) {
	args := m.Called(ctx, jobID)
	records, _ := args.Get(0).([]domain.AuditRecord)
	return records, args.Error(1)
}

func newAuditRouter(h *AuditHandler) *mux.Router {
	router := mux.NewRouter()
	h.RegisterRoutes(router.PathPrefix("/api").Subrouter())
	return router
}

func TestAuditHandler_ListAuditsLimit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantLimit int
	}{
		{name: "absent", query: "", wantLimit: 50},
		{name: "explicit", query: "?limit=10", wantLimit: 10},
		{name: "non-numeric", query: "?limit=ten", wantLimit: 50},
		{name: "zero", query: "?limit=0", wantLimit: 50},
		{name: "negative", query: "?limit=-5", wantLimit: 50},
		{name: "capped", query: "?limit=50000", wantLimit: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audits := new(MockAuditReader)
			audits.On("List", mock.Anything, tt.wantLimit).Return([]domain.AuditRecord{}, nil)

			rr := httptest.NewRecorder()
			newAuditRouter(NewAuditHandler(audits, nil)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/audits"+tt.query, nil))

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.JSONEq(t, `{"success":true,"audits":[]}`, rr.Body.String())
			audits.AssertExpectations(t)
		})
	}
}

func TestAuditHandler_ListAuditsBody(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 30, 0, 123456000, time.UTC)
	audits := new(MockAuditReader)
	audits.On("List", mock.Anything, 2).Return([]domain.AuditRecord{
		{ID: "01B", JobID: "job-1", Action: "Get-OrganizationConfig", Status: domain.AuditStatusCompleted, Details: `{"Name":"Contoso"}`, CreatedAt: at.Add(time.Microsecond)},
		{ID: "01A", JobID: "job-1", Action: "Get-OrganizationConfig", Status: domain.AuditStatusStarted, Details: `{}`, CreatedAt: at},
	}, nil)

	rr := httptest.NewRecorder()
	newAuditRouter(NewAuditHandler(audits, nil)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/audits?limit=2", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Success bool                 `json:"success"`
		Audits  []domain.AuditRecord `json:"audits"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Audits, 2)
	assert.Equal(t, "01B", body.Audits[0].ID)
	assert.Equal(t, domain.AuditStatusStarted, body.Audits[1].Status)
	assert.True(t, at.Equal(body.Audits[1].CreatedAt))
}

func TestAuditHandler_ListAuditsStoreFailure(t *testing.T) {
	audits := new(MockAuditReader)
	audits.On("List", mock.Anything, 50).Return(nil, errors.New("database is locked"))

	rr := httptest.NewRecorder()
	newAuditRouter(NewAuditHandler(audits, nil)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/audits", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "database is locked")
}

func TestAuditHandler_ListJobAudits(t *testing.T) {
	audits := new(MockAuditReader)
	audits.On("ListByJob", mock.Anything, "job-7").Return(nil, nil)

	router := newAuditRouter(NewAuditHandler(audits, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/job-7/audits", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"audits":[]}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/-bad/audits", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	audits.AssertExpectations(t)
}
