package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iconidentify/grabba/internal/domain"
)

// InMemoryJobRepository implements JobRepository using in-memory storage.
type InMemoryJobRepository struct {
	mu       sync.RWMutex
	jobs     map[domain.JobID]*domain.Job
	order    []domain.JobID          // creation order, for List
	inflight map[string]domain.JobID // fingerprint -> non-terminal job
	queue    []domain.JobID          // FIFO queue of pending job IDs
	maxQueue int
}

// NewInMemoryJobRepository creates a new in-memory job repository. maxQueue
// caps the number of pending jobs; 0 means unbounded.
func NewInMemoryJobRepository(maxQueue int) *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:     make(map[domain.JobID]*domain.Job),
		inflight: make(map[string]domain.JobID),
		queue:    make([]domain.JobID, 0),
		maxQueue: maxQueue,
	}
}

// EnqueueOrJoin adds a job to the queue or returns the in-flight job for the
// same target.
func (r *InMemoryJobRepository) EnqueueOrJoin(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.inflight[job.Fingerprint]; ok {
		if existing, ok := r.jobs[id]; ok && !existing.Status().IsTerminal() {
			return existing, true, nil
		}
		delete(r.inflight, job.Fingerprint)
	}

	if r.maxQueue > 0 && len(r.queue) >= r.maxQueue {
		return nil, false, domain.ErrQueueFull
	}

	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	r.inflight[job.Fingerprint] = job.ID
	r.queue = append(r.queue, job.ID)

	return job, false, nil
}

// Dequeue retrieves the next pending job (FIFO). Jobs that left the pending
// state while queued are dropped.
func (r *InMemoryJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.queue) > 0 {
		id := r.queue[0]
		r.queue = r.queue[1:]

		job, ok := r.jobs[id]
		if !ok {
			continue
		}
		if job.Status() == domain.JobStatusPending {
			return job, nil
		}
	}

	return nil, domain.ErrNoJobs
}

// Get retrieves a job by ID.
func (r *InMemoryJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

// List returns jobs in creation order.
func (r *InMemoryJobRepository) List(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Job, 0, len(r.order))
	for _, id := range r.order {
		job, ok := r.jobs[id]
		if !ok {
			continue
		}
		if status != nil && job.Status() != *status {
			continue
		}
		result = append(result, job)
	}

	return result, nil
}

// Release frees the job's fingerprint so a new request for the same target
// starts a fresh job.
func (r *InMemoryJobRepository) Release(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	if r.inflight[job.Fingerprint] == job.ID {
		delete(r.inflight, job.Fingerprint)
	}
	return nil
}

// Prune removes terminal jobs that finished before the cutoff and returns
// their IDs.
func (r *InMemoryJobRepository) Prune(ctx context.Context, before time.Time) ([]domain.JobID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.JobID
	kept := r.order[:0]
	for _, id := range r.order {
		job, ok := r.jobs[id]
		if !ok {
			continue
		}
		snap := job.Snapshot()
		if snap.Status.IsTerminal() && snap.FinishedAt.Before(before) {
			delete(r.jobs, id)
			if r.inflight[job.Fingerprint] == id {
				delete(r.inflight, job.Fingerprint)
			}
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept

	return removed, nil
}

// Stats returns queue statistics.
func (r *InMemoryJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &QueueStats{InFlight: len(r.inflight)}
	for _, job := range r.jobs {
		switch job.Status() {
		case domain.JobStatusPending:
			stats.Queued++
		case domain.JobStatusRunning:
			stats.Running++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		}
	}

	return stats, nil
}
