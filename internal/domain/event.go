package domain

import (
	"time"
)

// EventPhase is the progress event vocabulary.
type EventPhase string

const (
	PhaseDownloading EventPhase = "downloading"
	PhaseCompleted   EventPhase = "completed"
	PhaseError       EventPhase = "error"
)

// IsTerminal reports whether the phase ends a job's event stream.
func (p EventPhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// WireName returns the event name used on the push channel.
func (p EventPhase) WireName() string {
	switch p {
	case PhaseCompleted:
		return "download_complete"
	case PhaseError:
		return "download_error"
	default:
		return "downloading"
	}
}

// Unknown is substituted for progress fields the collaborator did not
// report, so every event carries the same fields.
const Unknown = "N/A"

// ProgressEvent is one entry of a job's event stream. Seq is assigned by
// the relay and is strictly increasing in emission order.
type ProgressEvent struct {
	Seq       uint64     `json:"seq"`
	JobID     JobID      `json:"job_id"`
	Phase     EventPhase `json:"phase"`
	Progress  string     `json:"progress"`
	Speed     string     `json:"speed"`
	ETA       string     `json:"eta"`
	Filename  string     `json:"filename"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// RawProgress is the collaborator's sparse progress report. Negative values
// mean the field was not reported.
type RawProgress struct {
	Status          string
	DownloadedBytes int64
	TotalBytes      int64
	// BytesPerSecond is the transfer rate, -1 if unknown.
	BytesPerSecond float64
	// ETA is the remaining time, -1 if unknown.
	ETA      time.Duration
	Filename string
}

// Outcome is the terminal result of a job. Exactly one of Filename and Err
// is meaningful: Err == nil means success.
type Outcome struct {
	Filename string
	Err      error
}

// EventFilter specifies criteria for querying events.
type EventFilter struct {
	JobID JobID
	Phase *EventPhase
	Since *time.Time
}

// EventQuery represents a query for events with pagination.
type EventQuery struct {
	Filter EventFilter
	Limit  int
	Offset int
}

// EventQueryResult contains the result of an event query.
type EventQueryResult struct {
	Events  []ProgressEvent `json:"events"`
	Total   int             `json:"total"`
	HasMore bool            `json:"has_more"`
}
