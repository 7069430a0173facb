package domain

import (
	"context"
	"sync"
	"time"
)

// JobID is a unique identifier for a job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one asynchronous fetch (+ optional transcode) unit of work.
// Jobs are shared between the registry, the worker running them and the
// HTTP handlers, so all mutable state is guarded.
type Job struct {
	ID          JobID
	Request     Request
	Fingerprint string
	OutputDir   string
	CreatedAt   time.Time

	mu         sync.Mutex
	status     JobStatus
	filename   string
	lastError  string
	canceled   bool
	cancel     context.CancelFunc
	startedAt  time.Time
	finishedAt time.Time
}

// NewJob creates a pending job for a request.
func NewJob(id JobID, req Request, outputDir string) *Job {
	return &Job{
		ID:          id,
		Request:     req,
		Fingerprint: req.Fingerprint(),
		OutputDir:   outputDir,
		CreatedAt:   time.Now(),
		status:      JobStatusPending,
	}
}

// Status returns the current lifecycle state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// MarkRunning moves a pending job to running and binds the cancel function
// of its execution context.
func (j *Job) MarkRunning(cancel context.CancelFunc) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusPending {
		return ErrInvalidTransition
	}
	if j.canceled {
		return ErrJobCanceled
	}
	j.status = JobStatusRunning
	j.cancel = cancel
	j.startedAt = time.Now()
	return nil
}

// MarkCompleted records the final artifact name. Only a running job can
// complete.
func (j *Job) MarkCompleted(filename string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != JobStatusRunning {
		return ErrInvalidTransition
	}
	j.status = JobStatusCompleted
	j.filename = filename
	j.finishedAt = time.Now()
	j.cancel = nil
	return nil
}

// MarkFailed records the failure cause. Pending and running jobs can fail;
// a terminal job cannot.
func (j *Job) MarkFailed(err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() {
		return ErrInvalidTransition
	}
	j.status = JobStatusFailed
	if err != nil {
		j.lastError = err.Error()
	}
	j.finishedAt = time.Now()
	j.cancel = nil
	return nil
}

// RequestCancel sets the cancellation flag and cancels the execution
// context if the job is running. It returns false for terminal jobs.
func (j *Job) RequestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() {
		return false
	}
	j.canceled = true
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

// Canceled reports whether cancellation was requested.
func (j *Job) Canceled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.canceled
}

// JobSnapshot is a point-in-time copy of a job's state.
type JobSnapshot struct {
	ID         JobID     `json:"job_id"`
	URL        string    `json:"url"`
	Format     Kind      `json:"format"`
	Quality    Quality   `json:"quality"`
	Status     JobStatus `json:"status"`
	Filename   string    `json:"filename,omitempty"`
	Error      string    `json:"error,omitempty"`
	Canceled   bool      `json:"canceled,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Snapshot returns a copy of the job state safe to serialize.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		ID:         j.ID,
		URL:        j.Request.URL,
		Format:     j.Request.Kind,
		Quality:    j.Request.Quality,
		Status:     j.status,
		Filename:   j.filename,
		Error:      j.lastError,
		Canceled:   j.canceled,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}
