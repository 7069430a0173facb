package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/grabba/internal/domain"
)

func newJobRouter(svc JobService) http.Handler {
	h := NewJobHandler(svc, testLogger())
	r := chi.NewRouter()
	r.Get("/jobs", h.List)
	r.Get("/jobs/{jobID}", h.Get)
	r.Delete("/jobs/{jobID}", h.Cancel)
	return r
}

func TestJobHandler_Get(t *testing.T) {
	job := newTestJob(t, "job_aaaa1111")
	if err := job.MarkRunning(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := job.MarkCompleted("/out/My Video.mp4"); err != nil {
		t.Fatal(err)
	}
	r := newJobRouter(&mockJobService{jobs: map[domain.JobID]*domain.Job{job.ID: job}})

	req := httptest.NewRequest(http.MethodGet, "/jobs/job_aaaa1111", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp JobResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != domain.JobStatusCompleted {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.DownloadURL != DownloadURL(resp.Filename) {
		t.Errorf("download_url = %q, filename = %q", resp.DownloadURL, resp.Filename)
	}
}

func TestJobHandler_Get_NotFound(t *testing.T) {
	r := newJobRouter(&mockJobService{jobs: map[domain.JobID]*domain.Job{}})

	req := httptest.NewRequest(http.MethodGet, "/jobs/job_missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJobHandler_List(t *testing.T) {
	pending := newTestJob(t, "job_pending")
	running := newTestJob(t, "job_running")
	if err := running.MarkRunning(func() {}); err != nil {
		t.Fatal(err)
	}
	svc := &mockJobService{jobs: map[domain.JobID]*domain.Job{
		pending.ID: pending,
		running.ID: running,
	}}
	r := newJobRouter(svc)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantTotal  int
	}{
		{"all", "", http.StatusOK, 2},
		{"pending only", "?status=pending", http.StatusOK, 1},
		{"completed only", "?status=completed", http.StatusOK, 0},
		{"invalid status", "?status=bogus", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/jobs"+tt.query, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp JobListResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Total != tt.wantTotal || len(resp.Jobs) != tt.wantTotal {
				t.Errorf("total = %d (%d jobs), want %d", resp.Total, len(resp.Jobs), tt.wantTotal)
			}
		})
	}
}

func TestJobHandler_Cancel(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		cancelErr  error
		wantStatus int
	}{
		{"pending job", "job_cancel", nil, http.StatusAccepted},
		{"unknown job", "job_missing", nil, http.StatusNotFound},
		{"already finished", "job_cancel", domain.ErrInvalidTransition, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newTestJob(t, "job_cancel")
			svc := &mockJobService{
				jobs:      map[domain.JobID]*domain.Job{job.ID: job},
				cancelErr: tt.cancelErr,
			}
			r := newJobRouter(svc)

			req := httptest.NewRequest(http.MethodDelete, "/jobs/"+tt.id, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusAccepted && !job.Canceled() {
				t.Error("job should be marked canceled")
			}
		})
	}
}
