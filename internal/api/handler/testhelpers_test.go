package handler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/iconidentify/grabba/internal/domain"
	"github.com/iconidentify/grabba/internal/repository"
	"github.com/iconidentify/grabba/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJob(t *testing.T, id string) *domain.Job {
	t.Helper()
	req, err := domain.NewRequest("https://example.com/"+id, "mp4", "720p")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return domain.NewJob(domain.JobID(id), req, "/out")
}

// mockJobRepository is a test implementation of repository.JobRepository.
type mockJobRepository struct {
	stats    *repository.QueueStats
	statsErr error
	jobs     map[domain.JobID]*domain.Job
}

func newMockJobRepository() *mockJobRepository {
	return &mockJobRepository{
		stats: &repository.QueueStats{},
		jobs:  make(map[domain.JobID]*domain.Job),
	}
}

func (m *mockJobRepository) EnqueueOrJoin(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	m.jobs[job.ID] = job
	return job, false, nil
}

func (m *mockJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	return nil, domain.ErrNoJobs
}

func (m *mockJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	if job, ok := m.jobs[id]; ok {
		return job, nil
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockJobRepository) List(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, job := range m.jobs {
		if status == nil || job.Status() == *status {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *mockJobRepository) Release(ctx context.Context, job *domain.Job) error {
	return nil
}

func (m *mockJobRepository) Prune(ctx context.Context, before time.Time) ([]domain.JobID, error) {
	return nil, nil
}

func (m *mockJobRepository) Stats(ctx context.Context) (*repository.QueueStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return m.stats, nil
}

// mockDownloadService is a test implementation of DownloadService.
type mockDownloadService struct {
	resolveResult *service.ResolveResult
	resolveErr    error
	submitResult  *service.SubmitResult
	submitErr     error
	lastRequest   domain.Request
}

func (m *mockDownloadService) Resolve(ctx context.Context, req domain.Request) (*service.ResolveResult, error) {
	m.lastRequest = req
	return m.resolveResult, m.resolveErr
}

func (m *mockDownloadService) Download(ctx context.Context, req domain.Request) (*service.SubmitResult, error) {
	m.lastRequest = req
	return m.submitResult, m.submitErr
}

// mockJobService is a test implementation of JobService.
type mockJobService struct {
	jobs      map[domain.JobID]*domain.Job
	cancelErr error
}

func (m *mockJobService) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	if job, ok := m.jobs[id]; ok {
		return job, nil
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockJobService) List(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, job := range m.jobs {
		if status == nil || job.Status() == *status {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *mockJobService) Cancel(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if m.cancelErr != nil {
		return job, m.cancelErr
	}
	job.RequestCancel()
	return job, nil
}
