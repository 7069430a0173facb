package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/grabba/internal/domain"
)

// JobService is the job lookup and control surface used by JobHandler.
type JobService interface {
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)
	List(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error)
	Cancel(ctx context.Context, id domain.JobID) (*domain.Job, error)
}

// JobHandler handles job status requests.
type JobHandler struct {
	svc    JobService
	logger *slog.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(svc JobService, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		svc:    svc,
		logger: logger,
	}
}

// JobResponse is a job snapshot plus its download link once completed.
type JobResponse struct {
	domain.JobSnapshot
	DownloadURL string `json:"download_url,omitempty"`
}

// JobListResponse contains the job list.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

func toJobResponse(job *domain.Job) JobResponse {
	snap := job.Snapshot()
	resp := JobResponse{JobSnapshot: snap}
	if snap.Status == domain.JobStatusCompleted && snap.Filename != "" {
		resp.DownloadURL = DownloadURL(snap.Filename)
	}
	return resp
}

// List handles GET /jobs
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *domain.JobStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.JobStatus(s)
		switch st {
		case domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCompleted, domain.JobStatusFailed:
			status = &st
		default:
			h.writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
	}

	jobs, err := h.svc.List(r.Context(), status)
	if err != nil {
		h.logger.Error("list jobs failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	resp := JobListResponse{
		Jobs:  make([]JobResponse, 0, len(jobs)),
		Total: len(jobs),
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /jobs/{jobID}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job, err := h.svc.Get(r.Context(), domain.JobID(jobID))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			h.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.writeJSON(w, http.StatusOK, toJobResponse(job))
}

// Cancel handles DELETE /jobs/{jobID}
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job, err := h.svc.Cancel(r.Context(), domain.JobID(jobID))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			h.writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, "job already finished")
		default:
			h.logger.Error("cancel job failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (h *JobHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *JobHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
