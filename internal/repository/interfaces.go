package repository

import (
	"context"
	"os"
	"time"

	"github.com/iconidentify/grabba/internal/domain"
)

// JobRepository manages the job queue and the in-flight registry.
type JobRepository interface {
	// EnqueueOrJoin queues job, unless a non-terminal job with the same
	// fingerprint exists; then that job is returned with joined set.
	EnqueueOrJoin(ctx context.Context, job *domain.Job) (existing *domain.Job, joined bool, err error)

	// Dequeue retrieves the next pending job (FIFO).
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)

	// List returns jobs in creation order, optionally filtered by status.
	List(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error)

	// Release removes a finished job from the in-flight registry.
	Release(ctx context.Context, job *domain.Job) error

	// Prune deletes terminal jobs that finished before the cutoff.
	Prune(ctx context.Context, before time.Time) ([]domain.JobID, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)
}

// OutputStore manages produced files.
type OutputStore interface {
	// Resolve reconciles a predicted output path with what is on disk.
	Resolve(predicted string) (*ResolvedOutput, error)

	// Open returns a produced file by base name for serving.
	Open(filename string) (*os.File, os.FileInfo, error)

	// Prune deletes produced and temporary files older than the cutoff.
	Prune(before time.Time) (int, error)

	OutputDir() string
	TempDir() string
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"`
}
