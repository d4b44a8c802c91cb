package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tenantdesk/exojobs/infrastructure/http/response"
	"github.com/tenantdesk/exojobs/infrastructure/http/validator"
	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/internal/domain"
)

// AuditReader is the read side of the audit store
type AuditReader interface {
	List(ctx context.Context, limit int) ([]domain.AuditRecord, error)
	ListByJob(ctx context.Context, jobID string) ([]domain.AuditRecord, error)
}

// AuditHandler serves the audit trail
type AuditHandler struct {
	audits AuditReader
	logger logger.Logger
}

func NewAuditHandler(audits AuditReader, log logger.Logger) *AuditHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AuditHandler{
		audits: audits,
		logger: log,
	}
}

type auditsResponse struct {
	Success bool                 `json:"success"`
	Audits  []domain.AuditRecord `json:"audits"`
}

func (h *AuditHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audits", h.ListAudits).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}/audits", h.ListJobAudits).Methods(http.MethodGet)
}

// ListAudits returns the most recent audit records, newest first
func (h *AuditHandler) ListAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseLimit(r.URL.Query().Get("limit"))

	records, err := h.audits.List(ctx, limit)
	if err != nil {
		h.logger.Error(ctx, "Failed to list audits", err, map[string]interface{}{"limit": limit})
		response.InternalServerError(w, "Failed to list audits")
		return
	}

	h.writeAudits(w, records)
}

// ListJobAudits returns one job's trail, oldest first
func (h *AuditHandler) ListJobAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := mux.Vars(r)["id"]
	if !validator.ValidateJobID(jobID) {
		response.BadRequest(w, "Invalid job id")
		return
	}

	records, err := h.audits.ListByJob(ctx, jobID)
	if err != nil {
		h.logger.Error(ctx, "Failed to list job audits", err, map[string]interface{}{"job_id": jobID})
		response.InternalServerError(w, "Failed to list audits")
		return
	}

	h.writeAudits(w, records)
}

func (h *AuditHandler) writeAudits(w http.ResponseWriter, records []domain.AuditRecord) {
	if records == nil {
		records = []domain.AuditRecord{}
	}
	response.WriteJSON(w, http.StatusOK, auditsResponse{Success: true, Audits: records})
}

// parseLimit falls back to the default for absent, non-numeric or non-positive values
func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return domain.DefaultAuditListLimit
	}
	if limit > domain.MaxAuditListLimit {
		return domain.MaxAuditListLimit
	}
	return limit
}
