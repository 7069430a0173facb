package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iconidentify/grabba/internal/domain"
	"github.com/iconidentify/grabba/internal/service"
)

// keepaliveInterval is how often an idle stream receives a comment line.
const keepaliveInterval = 30 * time.Second

// EventSource is the relay surface used by EventHandler.
type EventSource interface {
	Subscribe() (uint64, <-chan domain.ProgressEvent)
	SubscribeJob(jobID domain.JobID) (uint64, <-chan domain.ProgressEvent, []domain.ProgressEvent)
	Unsubscribe(id uint64)
	Query(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error)
	QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error)
	Stats() service.EventStats
}

// JobLookup resolves job IDs for per-job streams.
type JobLookup interface {
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)
}

// EventHandler handles event-related HTTP requests.
type EventHandler struct {
	eventSvc EventSource
	jobs     JobLookup
	logger   *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(eventSvc EventSource, jobs JobLookup, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		eventSvc: eventSvc,
		jobs:     jobs,
		logger:   logger,
	}
}

// ProgressPayload is the data of a "downloading" stream event.
type ProgressPayload struct {
	JobID    string `json:"job_id"`
	Progress string `json:"progress"`
	Speed    string `json:"speed"`
	ETA      string `json:"eta"`
	Filename string `json:"filename"`
}

// CompletePayload is the data of a "download_complete" stream event.
type CompletePayload struct {
	JobID       string `json:"job_id"`
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
}

// ErrorPayload is the data of a "download_error" stream event.
type ErrorPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

// EventListResponse contains paginated event list.
type EventListResponse struct {
	Events  []domain.ProgressEvent `json:"events"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
	HasMore bool                   `json:"has_more"`
}

// DownloadURL is the path a produced file is served from.
func DownloadURL(filename string) string {
	return "/download_file/" + url.PathEscape(filename)
}

// payload maps a relay event to its stream payload.
func payload(e domain.ProgressEvent) interface{} {
	switch e.Phase {
	case domain.PhaseCompleted:
		return CompletePayload{
			JobID:       string(e.JobID),
			Success:     true,
			Filename:    e.Filename,
			DownloadURL: DownloadURL(e.Filename),
		}
	case domain.PhaseError:
		return ErrorPayload{
			JobID: string(e.JobID),
			Error: e.Error,
		}
	default:
		return ProgressPayload{
			JobID:    string(e.JobID),
			Progress: e.Progress,
			Speed:    e.Speed,
			ETA:      e.ETA,
			Filename: e.Filename,
		}
	}
}

// List handles GET /events
// Query parameters:
//   - job_id: filter by job
//   - phase: filter by phase (downloading, completed, error)
//   - since: only events at or after this time (RFC3339)
//   - limit: max events to return (default 50, max 200)
//   - offset: pagination offset
//   - historical: if "true", query SQLite instead of ring buffer
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.EventQuery{
		Limit:  50,
		Offset: 0,
	}

	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			query.Limit = parsed
		}
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			query.Offset = parsed
		}
	}

	if id := q.Get("job_id"); id != "" {
		query.Filter.JobID = domain.JobID(id)
	}
	if p := q.Get("phase"); p != "" {
		phase := domain.EventPhase(p)
		query.Filter.Phase = &phase
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		query.Filter.Since = &t
	}

	var result *domain.EventQueryResult
	var err error
	if q.Get("historical") == "true" {
		result, err = h.eventSvc.QueryHistorical(r.Context(), query)
	} else {
		result, err = h.eventSvc.Query(r.Context(), query)
	}

	if err != nil {
		h.logger.Error("failed to query events", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	h.writeJSON(w, http.StatusOK, EventListResponse{
		Events:  result.Events,
		Total:   result.Total,
		Limit:   query.Limit,
		Offset:  query.Offset,
		HasMore: result.HasMore,
	})
}

// Stats handles GET /events/stats
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.eventSvc.Stats())
}

// Stream handles GET /events/stream
// Server-Sent Events endpoint. With ?job_id= only that job's events are
// sent, its buffered backlog first, and the stream ends after its terminal
// event. An unknown job_id gets a 404 instead of a stream.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	jobID := domain.JobID(r.URL.Query().Get("job_id"))

	var (
		subID   uint64
		eventCh <-chan domain.ProgressEvent
		backlog []domain.ProgressEvent
	)
	if jobID != "" {
		subID, eventCh, backlog = h.eventSvc.SubscribeJob(jobID)
	} else {
		subID, eventCh = h.eventSvc.Subscribe()
	}
	defer h.eventSvc.Unsubscribe(subID)

	// Checked after subscribing so a job finishing in between is not missed.
	if jobID != "" && !endsWithTerminal(backlog) {
		if _, err := h.jobs.Get(r.Context(), jobID); err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				h.writeError(w, http.StatusNotFound, "job not found")
				return
			}
			h.logger.Error("failed to look up job", "job_id", jobID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to look up job")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.logger.Info("stream client connected",
		"subscriber_id", subID,
		"job_id", jobID,
		"remote_addr", r.RemoteAddr,
	)

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\": %d}\n\n", subID)

	for _, event := range backlog {
		if err := h.writeEvent(w, event); err != nil {
			return
		}
		if event.Phase.IsTerminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("stream client disconnected", "subscriber_id", subID)
			return

		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := h.writeEvent(w, event); err != nil {
				h.logger.Debug("stream write failed", "subscriber_id", subID, "error", err)
				return
			}
			flusher.Flush()
			if jobID != "" && event.Phase.IsTerminal() {
				return
			}

		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func endsWithTerminal(events []domain.ProgressEvent) bool {
	return len(events) > 0 && events[len(events)-1].Phase.IsTerminal()
}

func (h *EventHandler) writeEvent(w http.ResponseWriter, event domain.ProgressEvent) error {
	data, err := json.Marshal(payload(event))
	if err != nil {
		h.logger.Warn("failed to serialize event", "seq", event.Seq, "error", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Phase.WireName(), data)
	return err
}

func (h *EventHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *EventHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
