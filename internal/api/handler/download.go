package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/grabba/internal/domain"
	"github.com/iconidentify/grabba/internal/service"
)

// maxRequestBody caps the size of JSON request bodies.
const maxRequestBody = 64 << 10

// DownloadService is the orchestrator surface used by DownloadHandler.
type DownloadService interface {
	Resolve(ctx context.Context, req domain.Request) (*service.ResolveResult, error)
	Download(ctx context.Context, req domain.Request) (*service.SubmitResult, error)
}

// OutputOpener opens produced files for serving.
type OutputOpener interface {
	Open(filename string) (*os.File, os.FileInfo, error)
}

// DownloadHandler handles resolve, download and file requests.
type DownloadHandler struct {
	svc    DownloadService
	files  OutputOpener
	logger *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(svc DownloadService, files OutputOpener, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		svc:    svc,
		files:  files,
		logger: logger,
	}
}

// DownloadRequest is the JSON request body for resolve and download.
type DownloadRequest struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// ResolveResponse is returned by POST /resolve.
type ResolveResponse struct {
	Success         bool   `json:"success"`
	NeedsProcessing bool   `json:"needsProcessing,omitempty"`
	Reason          string `json:"reason,omitempty"`
	DirectURL       string `json:"directUrl,omitempty"`
	Filename        string `json:"filename,omitempty"`
	Title           string `json:"title"`
}

// DownloadResponse is returned by POST /download.
type DownloadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
	Joined  bool   `json:"joined"`
}

func (h *DownloadHandler) decode(w http.ResponseWriter, r *http.Request) (domain.Request, bool) {
	var body DownloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return domain.Request{}, false
	}

	req, err := domain.NewRequest(body.URL, body.Format, body.Quality)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return domain.Request{}, false
	}
	return req, true
}

// Resolve handles POST /resolve.
func (h *DownloadHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Resolve(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrExtraction) {
			h.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.logger.Error("resolve failed", "url", req.URL, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to resolve")
		return
	}

	resp := ResolveResponse{Success: true, Title: result.Title}
	switch v := result.Verdict.(type) {
	case *domain.Direct:
		resp.DirectURL = v.Candidate.URL
		resp.Filename = v.Filename
	case *domain.NeedsProcessing:
		resp.NeedsProcessing = true
		resp.Reason = v.Reason
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Download handles POST /download. The job runs in the background; progress
// is delivered on the event stream.
func (h *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Download(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			h.writeError(w, http.StatusServiceUnavailable, "download queue is full, try again later")
			return
		}
		h.logger.Error("download submit failed", "url", req.URL, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to start download")
		return
	}

	h.writeJSON(w, http.StatusAccepted, DownloadResponse{
		Success: true,
		Message: "started",
		JobID:   string(result.Job.ID),
		Joined:  result.Joined,
	})
}

// ServeFile handles GET /download_file/{filename}.
func (h *DownloadHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	f, info, err := h.files.Open(name)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidFilename):
			http.Error(w, "Invalid filename", http.StatusBadRequest)
		case errors.Is(err, domain.ErrFileNotFound):
			http.Error(w, "File not found", http.StatusNotFound)
		default:
			h.logger.Error("open output failed", "filename", name, "error", err)
			http.Error(w, "Failed to open file", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *DownloadHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *DownloadHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
