package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tenantdesk/exojobs/infrastructure/http/response"
	"github.com/tenantdesk/exojobs/infrastructure/http/validator"
	"github.com/tenantdesk/exojobs/infrastructure/service/logger"
	"github.com/tenantdesk/exojobs/internal/config"
	"github.com/tenantdesk/exojobs/internal/domain"
	"github.com/tenantdesk/exojobs/internal/usecase"
)

// maxJobBodyBytes bounds POST /api/jobs bodies
const maxJobBodyBytes = 1 << 20

// SyncExecutor runs a job in the request goroutine
type SyncExecutor interface {
	ExecuteSync(ctx context.Context, req domain.JobRequest) (domain.JobOutcome, error)
}

// JobEnqueuer hands a job to the queue and returns immediately
type JobEnqueuer interface {
	Enqueue(ctx context.Context, req domain.JobRequest) (domain.QueueHandle, error)
}

// JobHandler handles HTTP requests that trigger jobs
type JobHandler struct {
	executor SyncExecutor
	enqueuer JobEnqueuer
	mode     string
	logger   logger.Logger
}

// NewJobHandler creates a job handler. enqueuer may be nil when mode is sync.
func NewJobHandler(executor SyncExecutor, enqueuer JobEnqueuer, mode string, log logger.Logger) *JobHandler {
	if log == nil {
		log = logger.NewNop()
	}
	if mode == "" {
		mode = config.ModeSync
	}
	return &JobHandler{
		executor: executor,
		enqueuer: enqueuer,
		mode:     mode,
		logger:   log,
	}
}

type jobRequestBody struct {
	ID     string                 `json:"id"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

type queuedResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Queued  bool   `json:"queued"`
}

// RegisterRoutes registers job routes. limit wraps the routes that start work.
func (h *JobHandler) RegisterRoutes(router *mux.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	router.Handle("/jobs/org-config", limit(http.HandlerFunc(h.OrganizationConfig))).Methods(http.MethodPost)
	router.Handle("/jobs", limit(http.HandlerFunc(h.SubmitJob))).Methods(http.MethodPost)
}

// OrganizationConfig runs Get-OrganizationConfig synchronously
func (h *JobHandler) OrganizationConfig(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, domain.JobRequest{Action: usecase.ActionGetOrganizationConfig})
}

// SubmitJob runs or enqueues an arbitrary action depending on the execution mode
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJobBodyBytes)

	var body jobRequestBody
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	body.Action = strings.TrimSpace(body.Action)
	if !validator.ValidateRequired(body.Action) {
		response.BadRequest(w, "action is required")
		return
	}
	if body.ID != "" && !validator.ValidateJobID(body.ID) {
		response.BadRequest(w, "id must be 1-128 letters, digits or . _ : -")
		return
	}

	req := domain.JobRequest{ID: body.ID, Action: body.Action, Params: body.Params}

	if h.mode == config.ModeQueued {
		h.enqueue(w, r, req)
		return
	}
	h.runSync(w, r, req)
}

func (h *JobHandler) runSync(w http.ResponseWriter, r *http.Request, req domain.JobRequest) {
	ctx := r.Context()

	outcome, err := h.executor.ExecuteSync(ctx, req)
	if err != nil {
		h.logger.Error(ctx, "Job audit write failed", err, map[string]interface{}{
			"job_id": outcome.JobID,
			"action": req.Action,
		})
		response.WriteJSON(w, http.StatusInternalServerError, domain.JobOutcome{
			Success: false,
			JobID:   outcome.JobID,
			Error:   err.Error(),
		})
		return
	}

	response.WriteJSON(w, http.StatusOK, outcome)
}

func (h *JobHandler) enqueue(w http.ResponseWriter, r *http.Request, req domain.JobRequest) {
	ctx := r.Context()

	if h.enqueuer == nil {
		response.QueueUnavailable(w, "job queue is not configured")
		return
	}

	handle, err := h.enqueuer.Enqueue(ctx, req)
	if err != nil {
		var jobErr *domain.JobError
		if errors.As(err, &jobErr) {
			response.AppError(w, err)
			return
		}
		h.logger.Error(ctx, "Failed to enqueue job", err, map[string]interface{}{
			"job_id": req.ID,
			"action": req.Action,
		})
		response.QueueUnavailable(w, "job queue unavailable")
		return
	}

	response.WriteJSON(w, http.StatusAccepted, queuedResponse{
		Success: true,
		JobID:   handle.JobID,
		Queued:  true,
	})
}
