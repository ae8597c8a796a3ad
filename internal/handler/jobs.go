package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relayloop/chatrelay/internal/middleware"
	"github.com/relayloop/chatrelay/internal/model"
	"github.com/relayloop/chatrelay/internal/orchestrator"
	"github.com/relayloop/chatrelay/internal/service"
	"github.com/relayloop/chatrelay/pkg/logger"
)

// JobHandler exposes the poll transport: create a generation job, poll its
// status, cancel it. The orchestrator runs independently of these requests.
type JobHandler struct {
	orchestrator        *orchestrator.Orchestrator
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(
	orch *orchestrator.Orchestrator,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *JobHandler {
	return &JobHandler{
		orchestrator:        orch,
		conversationService: convSvc,
		logger:              log,
	}
}

// Create handles POST /api/v1/conversations/:id/jobs
//
// Returns the job id immediately, before generation begins, so the request
// finishes well inside short proxy timeouts.
func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Access check: no job is created for a conversation the caller
	// cannot see.
	if _, err := h.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var req model.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateGenerationRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := h.orchestrator.Start(orchestrator.StartInput{
		ConversationID:     conversationID,
		TenantID:           tenantID,
		Messages:           req.Messages,
		Model:              req.Model,
		ProviderCredential: middleware.GetProviderCredential(ctx),
	})

	h.logger.Info("generation job created",
		"job_id", job.ID, "conversation_id", conversationID, "tenant_id", tenantID)

	writeJSON(w, http.StatusAccepted, &model.CreateJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// Get handles GET /api/v1/jobs/:jobID
//
// Repeatable and side-effect-free; the client re-reads until terminal or
// evicted.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	jobID := chi.URLParam(r, "jobID")

	if err := middleware.ValidateJobID(jobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, ok := h.orchestrator.Get(jobID)
	if !ok || job.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// Cancel handles DELETE /api/v1/jobs/:jobID
//
// Only meaningful while pending or streaming; idempotent otherwise.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	jobID := chi.URLParam(r, "jobID")

	if err := middleware.ValidateJobID(jobID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, ok := h.orchestrator.Get(jobID)
	if !ok || job.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if h.orchestrator.Cancel(jobID) {
		h.logger.Info("job cancelled", "job_id", jobID, "tenant_id", tenantID)
	}

	w.WriteHeader(http.StatusNoContent)
}
