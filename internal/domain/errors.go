package domain

import "errors"

// Domain errors.
var (
	// ErrInvalidRequest is returned for a missing or malformed URL or an
	// unsupported format token.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrExtraction is matched by every *ExtractionError.
	ErrExtraction = errors.New("extraction failed")

	// ErrNoUsableRendition is returned when selection exhausts all tiers.
	ErrNoUsableRendition = errors.New("no usable rendition")

	// ErrJobFailed is matched by every *JobError.
	ErrJobFailed = errors.New("job failed")

	// ErrOutputNotFound is matched by every *OutputNotFoundError.
	ErrOutputNotFound = errors.New("output not found")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobs is returned when there are no jobs to process.
	ErrNoJobs = errors.New("no jobs available")

	// ErrJobCanceled is returned when a job was cancelled by request.
	ErrJobCanceled = errors.New("job canceled")

	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")

	// ErrInvalidTransition is returned for an illegal job state change.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrFileNotFound is returned when a produced file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidFilename is returned for filenames escaping the output directory.
	ErrInvalidFilename = errors.New("invalid filename")
)

// ExtractionError wraps a collaborator failure while reading origin metadata
// (origin unreachable, unsupported URL, age/region/auth gate).
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return "extraction failed for " + e.URL
	}
	return "extraction failed for " + e.URL + ": " + e.Err.Error()
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExtraction) true.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

// JobError wraps an error with job context.
type JobError struct {
	JobID JobID
	Op    string
	Err   error
}

func (e *JobError) Error() string {
	if e.JobID != "" {
		return e.Op + " [" + e.JobID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrJobFailed) true.
func (e *JobError) Is(target error) bool {
	return target == ErrJobFailed
}

// NewJobError creates a new JobError.
func NewJobError(jobID JobID, op string, err error) *JobError {
	return &JobError{
		JobID: jobID,
		Op:    op,
		Err:   err,
	}
}

// OutputNotFoundError means the collaborator reported success but no
// artifact matching the predicted path exists.
type OutputNotFoundError struct {
	Predicted string
}

func (e *OutputNotFoundError) Error() string {
	return "output not found: " + e.Predicted
}

// Is makes errors.Is(err, ErrOutputNotFound) true.
func (e *OutputNotFoundError) Is(target error) bool {
	return target == ErrOutputNotFound
}
