package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/iconidentify/grabba/internal/config"
	"github.com/iconidentify/grabba/internal/domain"
	"github.com/iconidentify/grabba/internal/downloader"
	"github.com/iconidentify/grabba/internal/repository"
	"github.com/iconidentify/grabba/internal/selector"
	"github.com/iconidentify/grabba/pkg/ffmpeg"
)

// lockRetryDelay is how often a busy per-target lock is retried.
const lockRetryDelay = 250 * time.Millisecond

// ReasonUnreachable is reported when a chosen direct link fails verification.
const ReasonUnreachable = "direct link not reachable"

// Catalog looks up normalized origin metadata.
type Catalog interface {
	Lookup(ctx context.Context, url string) (*domain.Info, error)
}

// Transcoder extracts an audio track into a local file.
type Transcoder interface {
	ExtractAudio(ctx context.Context, input string, cfg ffmpeg.AudioConfig) error
}

// Notifier is told when new work was queued.
type Notifier interface {
	Notify()
}

// DownloadService orchestrates resolution and background download jobs.
type DownloadService struct {
	catalog    Catalog
	extractor  downloader.Extractor
	prober     downloader.LinkProber
	transcoder Transcoder
	jobs       repository.JobRepository
	output     repository.OutputStore
	events     *EventService
	notifier   Notifier

	selection    config.SelectionConfig
	audioBitrate string
	logger       *slog.Logger
}

// NewDownloadService creates a new download service. prober and transcoder
// may be nil: direct links are then handed out unverified and audio jobs
// fail at the transcode step.
func NewDownloadService(
	catalog Catalog,
	extractor downloader.Extractor,
	prober downloader.LinkProber,
	transcoder Transcoder,
	jobs repository.JobRepository,
	output repository.OutputStore,
	events *EventService,
	selection config.SelectionConfig,
	extractorCfg config.ExtractorConfig,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		catalog:      catalog,
		extractor:    extractor,
		prober:       prober,
		transcoder:   transcoder,
		jobs:         jobs,
		output:       output,
		events:       events,
		selection:    selection,
		audioBitrate: extractorCfg.AudioBitrate,
		logger:       logger,
	}
}

// SetNotifier registers the executor to wake when a job is queued.
func (s *DownloadService) SetNotifier(n Notifier) {
	s.notifier = n
}

// ResolveResult is the outcome of a resolve request.
type ResolveResult struct {
	Verdict domain.Verdict
	Title   string
}

// Resolve decides between a direct origin link and server-side processing.
// Extraction failures are returned as *domain.ExtractionError.
func (s *DownloadService) Resolve(ctx context.Context, req domain.Request) (*ResolveResult, error) {
	info, err := s.catalog.Lookup(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	result := &ResolveResult{Title: info.Title}
	if !s.selection.PreferDirect {
		result.Verdict = &domain.NeedsProcessing{Reason: selector.ReasonDisabled}
		return result, nil
	}

	verdict := selector.Select(info.Candidates, req.Kind, req.Quality, info.Title)
	if direct, ok := verdict.(*domain.Direct); ok && s.selection.VerifyDirect && s.prober != nil {
		if !s.reachable(ctx, direct.Candidate.URL) {
			verdict = &domain.NeedsProcessing{Reason: ReasonUnreachable}
		}
	}
	result.Verdict = verdict

	s.logger.Info("request resolved",
		"url", req.URL,
		"format", req.Kind,
		"quality", req.Quality,
		"direct", isDirect(verdict),
	)
	return result, nil
}

func (s *DownloadService) reachable(ctx context.Context, url string) bool {
	res, err := s.prober.Probe(ctx, url)
	if err != nil {
		s.logger.Warn("direct link probe failed", "error", err)
		return false
	}
	if !res.Accessible {
		s.logger.Warn("direct link not accessible", "reason", res.Error)
		return false
	}
	return true
}

func isDirect(v domain.Verdict) bool {
	_, ok := v.(*domain.Direct)
	return ok
}

// SubmitResult is returned after submitting a download.
type SubmitResult struct {
	Job    *domain.Job
	Joined bool
}

// Download queues a background job for req. An identical request already in
// flight is joined instead of starting a second job.
func (s *DownloadService) Download(ctx context.Context, req domain.Request) (*SubmitResult, error) {
	jobID := domain.JobID("job_" + uuid.New().String()[:8])
	job := domain.NewJob(jobID, req, s.output.OutputDir())

	queued, joined, err := s.jobs.EnqueueOrJoin(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if joined {
		s.logger.Info("joined in-flight job",
			"job_id", queued.ID,
			"url", req.URL,
		)
		return &SubmitResult{Job: queued, Joined: true}, nil
	}

	s.logger.Info("download queued",
		"job_id", queued.ID,
		"url", req.URL,
		"format", req.Kind,
		"quality", req.Quality,
	)
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return &SubmitResult{Job: queued}, nil
}

// Run executes one job: metadata lookup, per-target lock, fetch, optional
// transcode and output reconciliation. It returns the produced file name.
func (s *DownloadService) Run(ctx context.Context, job *domain.Job) (string, error) {
	logger := s.logger.With("job_id", job.ID)

	info, err := s.catalog.Lookup(ctx, job.Request.URL)
	if err != nil {
		return "", err
	}
	stem := selector.SafeStem(info.Title)

	// Jobs that would write the same artifact take turns, whatever their
	// quality.
	lock := flock.New(s.lockPath(artifactPath(job, stem)))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", domain.NewJobError(job.ID, "lock", err)
	}
	if !locked {
		return "", domain.NewJobError(job.ID, "lock", errors.New("target is locked"))
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	updates := make(chan domain.RawProgress, 16)
	stop := make(chan struct{})
	relayed := make(chan struct{})
	go s.relayProgress(job.ID, updates, stop, relayed)

	filename, err := s.produce(ctx, job, stem, updates)

	close(stop)
	<-relayed

	if err != nil {
		return "", err
	}
	logger.Debug("output verified", "filename", filename)
	return filename, nil
}

// relayProgress forwards collaborator reports to the relay until stop is
// closed, then drains what is already buffered.
func (s *DownloadService) relayProgress(jobID domain.JobID, updates <-chan domain.RawProgress, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case raw := <-updates:
			s.events.OnProgress(jobID, raw)
		case <-stop:
			for {
				select {
				case raw := <-updates:
					s.events.OnProgress(jobID, raw)
				default:
					return
				}
			}
		}
	}
}

// artifactPath is where a job's verified output lands.
func artifactPath(job *domain.Job, stem string) string {
	return filepath.Join(job.OutputDir, stem+"."+job.Request.Kind.Extension())
}

// lockPath names the lock file guarding one artifact path.
func (s *DownloadService) lockPath(artifact string) string {
	sum := blake2b.Sum256([]byte(artifact))
	return filepath.Join(s.output.TempDir(), hex.EncodeToString(sum[:16])+".lock")
}

func (s *DownloadService) produce(ctx context.Context, job *domain.Job, stem string, updates chan<- domain.RawProgress) (string, error) {
	kind := job.Request.Kind
	predicted := artifactPath(job, stem)

	if !kind.IsAudio() {
		err := s.extractor.Fetch(ctx, downloader.FetchSpec{
			URL:            job.Request.URL,
			Kind:           kind,
			Quality:        job.Request.Quality,
			OutputTemplate: filepath.Join(job.OutputDir, stem+".%(ext)s"),
		}, updates)
		if err != nil {
			return "", domain.NewJobError(job.ID, "fetch", err)
		}
		return s.verify(job, predicted)
	}

	err := s.extractor.Fetch(ctx, downloader.FetchSpec{
		URL:            job.Request.URL,
		Kind:           kind,
		Quality:        job.Request.Quality,
		OutputTemplate: filepath.Join(s.output.TempDir(), string(job.ID)+".%(ext)s"),
	}, updates)
	if err != nil {
		return "", domain.NewJobError(job.ID, "fetch", err)
	}

	source, err := s.output.Resolve(filepath.Join(s.output.TempDir(), string(job.ID)))
	if err != nil {
		return "", domain.NewJobError(job.ID, "fetch", err)
	}
	defer os.Remove(source.Path)

	if s.transcoder == nil {
		return "", domain.NewJobError(job.ID, "transcode", errors.New("transcoder unavailable"))
	}
	err = s.transcoder.ExtractAudio(ctx, source.Path, ffmpeg.AudioConfig{
		Format:     kind.Extension(),
		Bitrate:    s.audioBitrate,
		OutputPath: predicted,
	})
	if err != nil {
		return "", domain.NewJobError(job.ID, "transcode", err)
	}
	return s.verify(job, predicted)
}

// verify reconciles the predicted path with the output directory and
// rejects empty artifacts.
func (s *DownloadService) verify(job *domain.Job, predicted string) (string, error) {
	resolved, err := s.output.Resolve(predicted)
	if err != nil {
		return "", err
	}
	if resolved.Size == 0 {
		return "", domain.NewJobError(job.ID, "verify", fmt.Errorf("produced file %s is empty", resolved.Name))
	}
	return resolved.Name, nil
}

// Finish records a job's terminal outcome, emits its terminal event and
// releases its fingerprint. Repeated calls for the same job are no-ops.
func (s *DownloadService) Finish(job *domain.Job, outcome domain.Outcome) {
	var err error
	if outcome.Err != nil {
		err = job.MarkFailed(outcome.Err)
	} else {
		err = job.MarkCompleted(outcome.Filename)
	}
	if err != nil {
		s.logger.Debug("job already finished", "job_id", job.ID, "error", err)
		return
	}

	s.events.OnTerminal(job.ID, outcome)

	if err := s.jobs.Release(context.Background(), job); err != nil {
		s.logger.Warn("failed to release job", "job_id", job.ID, "error", err)
	}
}

// Get returns a job by ID.
func (s *DownloadService) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

// List returns jobs, optionally filtered by status.
func (s *DownloadService) List(ctx context.Context, status *domain.JobStatus) ([]*domain.Job, error) {
	return s.jobs.List(ctx, status)
}

// Cancel requests cancellation of a job. A running job stops cooperatively;
// a pending job fails immediately. Cancelling a finished job returns
// domain.ErrInvalidTransition.
func (s *DownloadService) Cancel(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !job.RequestCancel() {
		return job, domain.ErrInvalidTransition
	}
	s.logger.Info("job cancel requested", "job_id", id)

	if job.Status() == domain.JobStatusPending {
		s.Finish(job, domain.Outcome{Err: domain.ErrJobCanceled})
	}
	return job, nil
}
