package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/iconidentify/grabba/internal/domain"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// ErrShuttingDown is the outcome of jobs still queued when the pool stops.
var ErrShuttingDown = errors.New("server shutting down")

// JobSource hands out pending jobs.
type JobSource interface {
	Dequeue(ctx context.Context) (*domain.Job, error)
}

// JobHandler runs jobs. Run does the work; Finish receives the terminal
// outcome exactly once per dequeued job, including panics and jobs
// cancelled before they started.
type JobHandler interface {
	Run(ctx context.Context, job *domain.Job) (filename string, err error)
	Finish(job *domain.Job, outcome domain.Outcome)
}

// Pool manages a pool of workers for download jobs.
type Pool struct {
	workers      int
	pollInterval time.Duration
	source       JobSource
	handler      JobHandler
	logger       *slog.Logger

	wake   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker pool configuration.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// NewPool creates a new worker pool.
func NewPool(
	cfg Config,
	source JobSource,
	handler JobHandler,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		source:       source,
		handler:      handler,
		logger:       logger,
		wake:         make(chan struct{}, cfg.Workers),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Notify wakes an idle worker without waiting for the next poll.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop cancels running jobs, waits for workers to exit and fails every job
// still queued.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(timeout):
		err = ErrShutdownTimeout
	}

	p.drain()
	return err
}

func (p *Pool) drain() {
	for {
		job, err := p.source.Dequeue(context.Background())
		if err != nil {
			return
		}
		p.logger.Warn("failing queued job on shutdown", "job_id", job.ID)
		p.handler.Finish(job, domain.Outcome{Err: ErrShuttingDown})
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("worker stopping")
			return
		case <-ticker.C:
		case <-p.wake:
		}

		// Drain the queue before sleeping again.
		for p.ctx.Err() == nil && p.processNextJob(logger) {
		}
	}
}

// processNextJob runs one job and reports whether one was available.
func (p *Pool) processNextJob(logger *slog.Logger) bool {
	job, err := p.source.Dequeue(p.ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobs) {
			logger.Error("failed to dequeue job", "error", err)
		}
		return false
	}

	logger = logger.With("job_id", job.ID)

	jobCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	if err := job.MarkRunning(cancel); err != nil {
		logger.Info("job canceled before start")
		p.handler.Finish(job, domain.Outcome{Err: domain.ErrJobCanceled})
		return true
	}

	logger.Info("processing job", "url", job.Request.URL, "format", job.Request.Kind)
	start := time.Now()

	filename, err := p.run(jobCtx, job)
	switch {
	case err != nil && job.Canceled():
		err = fmt.Errorf("%w: %v", domain.ErrJobCanceled, err)
	case err != nil && p.ctx.Err() != nil:
		err = fmt.Errorf("%w: %v", ErrShuttingDown, err)
	}

	if err != nil {
		logger.Error("job failed", "error", err, "duration", time.Since(start))
	} else {
		logger.Info("job completed", "filename", filename, "duration", time.Since(start))
	}

	p.handler.Finish(job, domain.Outcome{Filename: filename, Err: err})
	return true
}

// run calls the handler, turning a panic into an error.
func (p *Pool) run(ctx context.Context, job *domain.Job) (filename string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			filename = ""
			err = domain.NewJobError(job.ID, "run", fmt.Errorf("panic: %v", r))
		}
	}()
	return p.handler.Run(ctx, job)
}
