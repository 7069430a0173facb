package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/iconidentify/grabba/internal/config"
	"github.com/iconidentify/grabba/internal/domain"
)

// EventServiceConfig configures the event service.
type EventServiceConfig struct {
	// RingBufferSize is the number of events to keep in memory.
	// Default: 1000
	RingBufferSize int

	// PersistToSQLite enables SQLite persistence of terminal events.
	PersistToSQLite bool

	// SQLitePath is the path to the SQLite database file.
	SQLitePath string

	// RetentionDays is how long to keep events in SQLite (0 = forever).
	RetentionDays int

	// SubscriberBuffer is the channel capacity of each stream subscriber.
	// Default: 100
	SubscriberBuffer int
}

// EventServiceConfigFrom maps the events section of the application config.
func EventServiceConfigFrom(cfg config.EventsConfig) EventServiceConfig {
	return EventServiceConfig{
		RingBufferSize:  cfg.BufferSize,
		PersistToSQLite: cfg.Persist,
		SQLitePath:      cfg.DBPath,
		RetentionDays:   cfg.RetentionDays,
	}
}

type subscriber struct {
	ch    chan domain.ProgressEvent
	jobID domain.JobID // empty receives every job
}

// EventService relays job progress to stream subscribers. It keeps recent
// events in a ring buffer so late subscribers can replay a job's backlog,
// and optionally persists terminal events to SQLite.
//
// A single mutex covers sequencing, the buffer and fan-out, so each
// subscriber sees a job's events in emission order and the terminal event
// last.
type EventService struct {
	cfg    EventServiceConfig
	logger *slog.Logger

	mu         sync.Mutex
	events     []domain.ProgressEvent
	head       int // Next write position
	count      int // Number of events in buffer
	seq        uint64
	// terminal holds each job's terminal event after the ring drops it.
	terminal map[domain.JobID]domain.ProgressEvent

	subscribers map[uint64]*subscriber
	subSeq      uint64

	db        *sql.DB
	persistWG sync.WaitGroup
}

// NewEventService creates a new event service.
func NewEventService(cfg EventServiceConfig, logger *slog.Logger) (*EventService, error) {
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = 1000
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 100
	}

	svc := &EventService{
		cfg:         cfg,
		logger:      logger,
		events:      make([]domain.ProgressEvent, cfg.RingBufferSize),
		terminal:    make(map[domain.JobID]domain.ProgressEvent),
		subscribers: make(map[uint64]*subscriber),
	}

	if cfg.PersistToSQLite && cfg.SQLitePath != "" {
		if err := svc.initSQLite(); err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		logger.Info("event persistence enabled", "path", cfg.SQLitePath)
	}

	return svc, nil
}

func (s *EventService) initSQLite() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SQLitePath), 0755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			job_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			progress TEXT NOT NULL,
			speed TEXT NOT NULL,
			eta TEXT NOT NULL,
			filename TEXT NOT NULL,
			error TEXT,
			ts INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
		CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id);
	`)
	if err != nil {
		db.Close()
		return fmt.Errorf("create table: %w", err)
	}

	s.db = db
	return nil
}

// Close waits for pending writes and closes the database.
func (s *EventService) Close() error {
	s.persistWG.Wait()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// OnProgress relays a collaborator progress report. Reports arriving after
// the job's terminal event are dropped.
func (s *EventService) OnProgress(jobID domain.JobID, raw domain.RawProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.terminal[jobID]; done {
		return
	}
	s.emitLocked(domain.ProgressEvent{
		JobID:    jobID,
		Phase:    domain.PhaseDownloading,
		Progress: formatProgress(raw.DownloadedBytes, raw.TotalBytes),
		Speed:    formatSpeed(raw.BytesPerSecond),
		ETA:      formatETA(raw.ETA),
		Filename: formatFilename(raw.Filename),
	})
}

// OnTerminal emits the job's completion or error event. Only the first call
// per job emits; later calls return false.
func (s *EventService) OnTerminal(jobID domain.JobID, outcome domain.Outcome) bool {
	s.mu.Lock()
	if _, done := s.terminal[jobID]; done {
		s.mu.Unlock()
		return false
	}

	event := domain.ProgressEvent{
		JobID:    jobID,
		Phase:    domain.PhaseCompleted,
		Progress: "100.0%",
		Speed:    domain.Unknown,
		ETA:      "00:00",
		Filename: formatFilename(outcome.Filename),
	}
	if outcome.Err != nil {
		event.Phase = domain.PhaseError
		event.Progress = domain.Unknown
		event.ETA = domain.Unknown
		event.Filename = domain.Unknown
		event.Error = outcome.Err.Error()
	}
	event = s.emitLocked(event)
	s.terminal[jobID] = event
	s.mu.Unlock()

	if s.db != nil {
		s.persistWG.Add(1)
		go s.persistEvent(event)
	}

	if event.Phase == domain.PhaseError {
		s.logger.Error("download failed",
			"job_id", jobID,
			"seq", event.Seq,
			"error", event.Error,
		)
	} else {
		s.logger.Info("download complete",
			"job_id", jobID,
			"seq", event.Seq,
			"filename", event.Filename,
		)
	}
	return true
}

// emitLocked sequences, buffers and fans out an event. s.mu must be held.
func (s *EventService) emitLocked(event domain.ProgressEvent) domain.ProgressEvent {
	s.seq++
	event.Seq = s.seq
	event.Timestamp = time.Now()

	s.events[s.head] = event
	s.head = (s.head + 1) % s.cfg.RingBufferSize
	if s.count < s.cfg.RingBufferSize {
		s.count++
	}

	terminal := event.Phase.IsTerminal()
	for id, sub := range s.subscribers {
		if sub.jobID != "" && sub.jobID != event.JobID {
			continue
		}
		select {
		case sub.ch <- event:
			continue
		default:
		}
		if !terminal {
			s.logger.Warn("subscriber buffer full, dropping event", "subscriber_id", id, "seq", event.Seq)
			continue
		}
		// A terminal event must not be lost: make room by dropping the
		// oldest buffered progress update.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- event:
		default:
			s.logger.Warn("subscriber buffer full, dropping terminal event", "subscriber_id", id, "seq", event.Seq)
		}
	}

	return event
}

// IsTerminated reports whether the job's terminal event was emitted.
func (s *EventService) IsTerminated(jobID domain.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, done := s.terminal[jobID]
	return done
}

// Forget drops the exactly-once bookkeeping of a pruned job.
func (s *EventService) Forget(jobID domain.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.terminal, jobID)
}

func (s *EventService) persistEvent(event domain.ProgressEvent) {
	defer s.persistWG.Done()

	_, err := s.db.Exec(`
		INSERT INTO events (seq, job_id, phase, progress, speed, eta, filename, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.Seq, string(event.JobID), string(event.Phase), event.Progress, event.Speed,
		event.ETA, event.Filename, event.Error, event.Timestamp.UnixNano())

	if err != nil {
		s.logger.Warn("failed to persist event", "job_id", event.JobID, "seq", event.Seq, "error", err)
	}
}

// Query returns buffered events matching the filter, newest first.
func (s *EventService) Query(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	query = normalizeQuery(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	allEvents := make([]domain.ProgressEvent, 0, s.count)
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.cfg.RingBufferSize) % s.cfg.RingBufferSize
		event := s.events[idx]
		if matchesFilter(event, query.Filter) {
			allEvents = append(allEvents, event)
		}
	}

	total := len(allEvents)
	start := query.Offset
	if start >= total {
		return &domain.EventQueryResult{
			Events:  []domain.ProgressEvent{},
			Total:   total,
			HasMore: false,
		}, nil
	}

	end := start + query.Limit
	if end > total {
		end = total
	}

	return &domain.EventQueryResult{
		Events:  allEvents[start:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// QueryHistorical queries persisted terminal events, newest first.
func (s *EventService) QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	if s.db == nil {
		return &domain.EventQueryResult{Events: []domain.ProgressEvent{}}, nil
	}
	query = normalizeQuery(query)

	var conditions []string
	var args []interface{}

	if query.Filter.JobID != "" {
		conditions = append(conditions, "job_id = ?")
		args = append(args, string(query.Filter.JobID))
	}
	if query.Filter.Phase != nil {
		conditions = append(conditions, "phase = ?")
		args = append(args, string(*query.Filter.Phase))
	}
	if query.Filter.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, query.Filter.Since.UnixNano())
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM events %s", whereClause)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT seq, job_id, phase, progress, speed, eta, filename, error, ts
		FROM events %s
		ORDER BY ts DESC, id DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, query.Limit, query.Offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.ProgressEvent, 0, query.Limit)
	for rows.Next() {
		var (
			event   domain.ProgressEvent
			jobID   string
			phase   string
			errText sql.NullString
			ts      int64
		)
		if err := rows.Scan(&event.Seq, &jobID, &phase, &event.Progress, &event.Speed,
			&event.ETA, &event.Filename, &errText, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.JobID = domain.JobID(jobID)
		event.Phase = domain.EventPhase(phase)
		event.Error = errText.String
		event.Timestamp = time.Unix(0, ts)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return &domain.EventQueryResult{
		Events:  events,
		Total:   total,
		HasMore: query.Offset+len(events) < total,
	}, nil
}

func normalizeQuery(query domain.EventQuery) domain.EventQuery {
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	if query.Offset < 0 {
		query.Offset = 0
	}
	return query
}

func matchesFilter(event domain.ProgressEvent, filter domain.EventFilter) bool {
	if filter.JobID != "" && event.JobID != filter.JobID {
		return false
	}
	if filter.Phase != nil && event.Phase != *filter.Phase {
		return false
	}
	if filter.Since != nil && event.Timestamp.Before(*filter.Since) {
		return false
	}
	return true
}

// Subscribe registers a subscriber for every job's events. The caller must
// call Unsubscribe when done.
func (s *EventService) Subscribe() (uint64, <-chan domain.ProgressEvent) {
	id, ch, _ := s.subscribe("")
	return id, ch
}

// SubscribeJob registers a subscriber for one job and returns the job's
// buffered events in emission order. Backlog and live events neither
// overlap nor leave a gap. A finished job's backlog always ends with its
// terminal event.
func (s *EventService) SubscribeJob(jobID domain.JobID) (uint64, <-chan domain.ProgressEvent, []domain.ProgressEvent) {
	return s.subscribe(jobID)
}

func (s *EventService) subscribe(jobID domain.JobID) (uint64, <-chan domain.ProgressEvent, []domain.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var backlog []domain.ProgressEvent
	if jobID != "" {
		for i := s.count - 1; i >= 0; i-- {
			idx := (s.head - 1 - i + s.cfg.RingBufferSize) % s.cfg.RingBufferSize
			if s.events[idx].JobID == jobID {
				backlog = append(backlog, s.events[idx])
			}
		}
		// The ring may have evicted the terminal event; the stream still
		// needs it to end.
		if event, ok := s.terminal[jobID]; ok {
			if n := len(backlog); n == 0 || backlog[n-1].Seq != event.Seq {
				backlog = append(backlog, event)
			}
		}
	}

	s.subSeq++
	id := s.subSeq
	sub := &subscriber{
		ch:    make(chan domain.ProgressEvent, s.cfg.SubscriberBuffer),
		jobID: jobID,
	}
	s.subscribers[id] = sub

	s.logger.Debug("stream subscriber added",
		"subscriber_id", id,
		"job_id", jobID,
		"total_subscribers", len(s.subscribers),
	)
	return id, sub.ch, backlog
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *EventService) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		close(sub.ch)
		delete(s.subscribers, id)
		s.logger.Debug("stream subscriber removed", "subscriber_id", id, "total_subscribers", len(s.subscribers))
	}
}

// SubscriberCount returns the number of active stream subscribers.
func (s *EventService) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// EventStats holds statistics about the event service.
type EventStats struct {
	BufferSize    int  `json:"buffer_size"`
	BufferUsed    int  `json:"buffer_used"`
	Subscribers   int  `json:"subscribers"`
	TrackedJobs   int  `json:"tracked_jobs"`
	SQLiteEnabled bool `json:"sqlite_enabled"`
}

func (s *EventService) Stats() EventStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return EventStats{
		BufferSize:    s.cfg.RingBufferSize,
		BufferUsed:    s.count,
		Subscribers:   len(s.subscribers),
		TrackedJobs:   len(s.terminal),
		SQLiteEnabled: s.db != nil,
	}
}

// CleanupOldEvents removes events older than retention period from SQLite.
func (s *EventService) CleanupOldEvents(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return fmt.Errorf("delete old events: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Info("cleaned up old events", "deleted", deleted, "cutoff", cutoff)
	}

	return nil
}

func formatProgress(downloaded, total int64) string {
	if total <= 0 || downloaded < 0 {
		return domain.Unknown
	}
	pct := float64(downloaded) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return fmt.Sprintf("%.1f%%", pct)
}

func formatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 0 {
		return domain.Unknown
	}
	return humanize.Bytes(uint64(bytesPerSecond)) + "/s"
}

func formatETA(eta time.Duration) string {
	if eta < 0 {
		return domain.Unknown
	}
	secs := int64(eta.Round(time.Second) / time.Second)
	h, m, sec := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

func formatFilename(path string) string {
	if path == "" {
		return domain.Unknown
	}
	return filepath.Base(path)
}
