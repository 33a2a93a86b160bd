// Package api serves the conversion jobs API: submission, lookup,
// cancellation and live watching of jobs, plus the health checks.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"rombuilder/internal/apperrors"
	"rombuilder/internal/health"
	"rombuilder/internal/job"
)

// maxRequestBodySize bounds submissions; a job request is a few hundred bytes.
const maxRequestBodySize = 64 << 10

// Handler serves the jobs API on top of a job.Service.
type Handler struct {
	svc     *job.Service
	health  *health.Checker
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *job.Service, healthChecker *health.Checker, version string) *Handler {
	return &Handler{
		svc:     svc,
		health:  healthChecker,
		version: version,
	}
}

// CreateJob handles POST /v1/jobs. The job is accepted once its external
// run has started; the outcome arrives later through the requester's channel.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req job.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, apperrors.Body{
			Error: "invalid request body: " + err.Error(),
			Code:  apperrors.CodeInvalidRequest,
		})
		return
	}

	resp, err := h.svc.Submit(r.Context(), &req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+resp.ID)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.List(r.Context()))
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}

	j, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, j)
}

// DeleteJob handles DELETE /v1/jobs/{jobId} by cancelling the job's run.
// The job stays in the store as failed with cause "cancelled".
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Cancel(r.Context(), jobID); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz. It answers 503 while the runner backend
// cannot take conversions; failing notification channels only degrade it.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

// Version handles GET /version
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// jobID reads the {jobId} path value, answering 400 when it is empty.
func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("jobId")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, apperrors.Body{
			Error: "job ID is required",
			Code:  apperrors.CodeInvalidRequest,
		})
		return "", false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, body apperrors.Body) {
	h.writeJSON(w, status, body)
}

// handleError answers with the status and body the service error maps to.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Request failed", "error", err, "path", r.URL.Path, "status", status)
	} else {
		slog.Warn("Request rejected", "error", err, "path", r.URL.Path, "status", status, "reason", apperrors.ReasonOf(err))
	}
	h.writeError(w, status, apperrors.BodyOf(err))
}
