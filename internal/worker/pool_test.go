package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/grabba/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(t *testing.T, id string) *domain.Job {
	t.Helper()
	req, err := domain.NewRequest("https://example.com/"+id, "mp4", "best")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return domain.NewJob(domain.JobID(id), req, "/out")
}

// mockSource implements JobSource for testing.
type mockSource struct {
	mu           sync.Mutex
	jobs         []*domain.Job
	dequeueErr   error
	dequeueCalls int
}

func (m *mockSource) push(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

func (m *mockSource) Dequeue(ctx context.Context) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dequeueCalls++
	if m.dequeueErr != nil {
		return nil, m.dequeueErr
	}
	for len(m.jobs) > 0 {
		job := m.jobs[0]
		m.jobs = m.jobs[1:]
		if job.Status() == domain.JobStatusPending {
			return job, nil
		}
	}
	return nil, domain.ErrNoJobs
}

// mockHandler implements JobHandler for testing.
type mockHandler struct {
	mu       sync.Mutex
	run      func(ctx context.Context, job *domain.Job) (string, error)
	outcomes map[domain.JobID][]domain.Outcome
	done     chan domain.JobID
}

func newMockHandler(run func(ctx context.Context, job *domain.Job) (string, error)) *mockHandler {
	return &mockHandler{
		run:      run,
		outcomes: make(map[domain.JobID][]domain.Outcome),
		done:     make(chan domain.JobID, 16),
	}
}

func (h *mockHandler) Run(ctx context.Context, job *domain.Job) (string, error) {
	return h.run(ctx, job)
}

func (h *mockHandler) Finish(job *domain.Job, outcome domain.Outcome) {
	h.mu.Lock()
	h.outcomes[job.ID] = append(h.outcomes[job.ID], outcome)
	h.mu.Unlock()
	h.done <- job.ID
}

func (h *mockHandler) outcomesFor(id domain.JobID) []domain.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Outcome(nil), h.outcomes[id]...)
}

func waitFinished(t *testing.T, h *mockHandler, id domain.JobID) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.done:
			if got == id {
				return
			}
		case <-timeout:
			t.Fatalf("job %s did not finish", id)
		}
	}
}

func TestNewPool_DefaultValues(t *testing.T) {
	pool := NewPool(Config{}, &mockSource{}, newMockHandler(nil), testLogger())

	if pool.workers != 2 {
		t.Errorf("workers = %d, want 2 (default)", pool.workers)
	}
	if pool.pollInterval != time.Second {
		t.Errorf("pollInterval = %v, want 1s (default)", pool.pollInterval)
	}
}

func TestNewPool_NegativeValues(t *testing.T) {
	pool := NewPool(Config{Workers: -5, PollInterval: -time.Second}, &mockSource{}, newMockHandler(nil), testLogger())

	if pool.workers != 2 {
		t.Errorf("workers = %d, want 2", pool.workers)
	}
	if pool.pollInterval != time.Second {
		t.Errorf("pollInterval = %v, want 1s", pool.pollInterval)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool := NewPool(Config{Workers: 2, PollInterval: 10 * time.Millisecond}, &mockSource{}, newMockHandler(nil), testLogger())

	pool.Start()
	time.Sleep(30 * time.Millisecond)

	if err := pool.Stop(time.Second); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}
}

func TestPool_RunsJobOnNotify(t *testing.T) {
	source := &mockSource{}
	handler := newMockHandler(func(ctx context.Context, job *domain.Job) (string, error) {
		if job.Status() != domain.JobStatusRunning {
			t.Errorf("status during run = %s, want running", job.Status())
		}
		return "Video.mp4", nil
	})
	// A long poll interval proves Notify does the waking.
	pool := NewPool(Config{Workers: 1, PollInterval: time.Hour}, source, handler, testLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	job := testJob(t, "job-1")
	source.push(job)
	pool.Notify()

	waitFinished(t, handler, job.ID)
	outcomes := handler.outcomesFor(job.ID)
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Err != nil || outcomes[0].Filename != "Video.mp4" {
		t.Errorf("outcome = %+v", outcomes[0])
	}
}

func TestPool_PanicBecomesFailure(t *testing.T) {
	source := &mockSource{}
	handler := newMockHandler(func(ctx context.Context, job *domain.Job) (string, error) {
		panic("collaborator exploded")
	})
	pool := NewPool(Config{Workers: 1, PollInterval: 10 * time.Millisecond}, source, handler, testLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	job := testJob(t, "job-panic")
	source.push(job)

	waitFinished(t, handler, job.ID)
	outcomes := handler.outcomesFor(job.ID)
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if !errors.Is(outcomes[0].Err, domain.ErrJobFailed) {
		t.Errorf("outcome error = %v, want ErrJobFailed", outcomes[0].Err)
	}
}

func TestPool_CancelRunningJob(t *testing.T) {
	source := &mockSource{}
	started := make(chan struct{})
	handler := newMockHandler(func(ctx context.Context, job *domain.Job) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	pool := NewPool(Config{Workers: 1, PollInterval: 10 * time.Millisecond}, source, handler, testLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	job := testJob(t, "job-cancel")
	source.push(job)

	<-started
	job.RequestCancel()

	waitFinished(t, handler, job.ID)
	outcomes := handler.outcomesFor(job.ID)
	if !errors.Is(outcomes[0].Err, domain.ErrJobCanceled) {
		t.Errorf("outcome error = %v, want ErrJobCanceled", outcomes[0].Err)
	}
}

func TestPool_CanceledBeforeStart(t *testing.T) {
	source := &mockSource{}
	handler := newMockHandler(func(ctx context.Context, job *domain.Job) (string, error) {
		t.Error("canceled job must not run")
		return "", nil
	})

	job := testJob(t, "job-early")
	job.RequestCancel()
	source.push(job)

	pool := NewPool(Config{Workers: 1, PollInterval: 10 * time.Millisecond}, source, handler, testLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	waitFinished(t, handler, job.ID)
	if !errors.Is(handler.outcomesFor(job.ID)[0].Err, domain.ErrJobCanceled) {
		t.Error("expected ErrJobCanceled outcome")
	}
}

func TestPool_StopFailsQueuedJobs(t *testing.T) {
	source := &mockSource{}
	handler := newMockHandler(func(ctx context.Context, job *domain.Job) (string, error) {
		return "x.mp4", nil
	})
	pool := NewPool(Config{Workers: 1, PollInterval: time.Hour}, source, handler, testLogger())

	// Never started: everything queued is failed on Stop.
	job := testJob(t, "job-queued")
	source.push(job)

	if err := pool.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	outcomes := handler.outcomesFor(job.ID)
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, ErrShuttingDown) {
		t.Errorf("outcomes = %+v, want one ErrShuttingDown", outcomes)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	source := &mockSource{}
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	handler := newMockHandler(func(ctx context.Context, job *domain.Job) (string, error) {
		close(started)
		<-release // ignores cancellation
		return "", nil
	})
	pool := NewPool(Config{Workers: 1, PollInterval: 10 * time.Millisecond}, source, handler, testLogger())
	pool.Start()

	source.push(testJob(t, "job-stuck"))
	<-started

	if err := pool.Stop(50 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Stop error = %v, want ErrShutdownTimeout", err)
	}
}

func TestPool_DequeueError(t *testing.T) {
	source := &mockSource{dequeueErr: errors.New("database error")}
	pool := NewPool(Config{Workers: 1, PollInterval: 10 * time.Millisecond}, source, newMockHandler(nil), testLogger())

	pool.Start()
	time.Sleep(50 * time.Millisecond)
	pool.Stop(time.Second)

	source.mu.Lock()
	calls := source.dequeueCalls
	source.mu.Unlock()
	if calls == 0 {
		t.Error("Dequeue should have been called")
	}
}
