package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/grabba/internal/repository"
)

var startTime = time.Now()

// SubscriberCounter reports active stream subscribers.
type SubscriberCounter interface {
	SubscriberCount() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	jobRepo   repository.JobRepository
	outputDir string
	events    SubscriberCounter
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(jobRepo repository.JobRepository, outputDir string, events SubscriberCounter) *HealthHandler {
	return &HealthHandler{
		jobRepo:   jobRepo,
		outputDir: outputDir,
		events:    events,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Queue     *repository.QueueStats `json:"queue,omitempty"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe. The job repository must answer
// and the output directory must be writable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.jobRepo.Stats(ctx)
	if err != nil {
		h.notReady(w, "job repository unavailable")
		return
	}

	if err := checkWritable(h.outputDir); err != nil {
		h.notReady(w, "output directory not writable")
		return
	}

	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Queue:     stats,
	})
}

func (h *HealthHandler) notReady(w http.ResponseWriter, reason string) {
	h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
		Status:    "error",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     reason,
	})
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".ready-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// SystemStats contains system resource statistics.
type SystemStats struct {
	Uptime         int64                  `json:"uptime_seconds"`
	UptimeHuman    string                 `json:"uptime_human"`
	MemAllocMB     int64                  `json:"mem_alloc_mb"`
	MemSysMB       int64                  `json:"mem_sys_mb"`
	NumGoroutines  int                    `json:"num_goroutines"`
	NumCPU         int                    `json:"num_cpu"`
	CPUPercent     float64                `json:"cpu_pct"`
	DiskUsedBytes  int64                  `json:"disk_used_bytes"`
	DiskFreeBytes  int64                  `json:"disk_free_bytes"`
	DiskTotalBytes int64                  `json:"disk_total_bytes"`
	DiskUsedPct    float64                `json:"disk_used_pct"`
	DiskFreeHuman  string                 `json:"disk_free_human"`
	StoragePath    string                 `json:"storage_path"`
	Queue          *repository.QueueStats `json:"queue,omitempty"`
	Subscribers    int                    `json:"subscribers"`
}

// Stats handles GET /stats - system statistics.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		CPUPercent:    getCPUUsage(),
		StoragePath:   h.outputDir,
	}

	stats.DiskTotalBytes, stats.DiskFreeBytes, stats.DiskUsedBytes, stats.DiskUsedPct = getDiskStats(h.outputDir)
	stats.DiskFreeHuman = humanize.Bytes(uint64(stats.DiskFreeBytes))

	if queue, err := h.jobRepo.Stats(r.Context()); err == nil {
		stats.Queue = queue
	}
	if h.events != nil {
		stats.Subscribers = h.events.SubscriberCount()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// formatUptime renders d as "2d 3h 4m", dropping leading zero units.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func (h *HealthHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
