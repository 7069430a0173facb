package service

import (
	"context"
	"time"
)

// JanitorResult summarizes one cleanup pass.
type JanitorResult struct {
	JobsPruned   int
	FilesRemoved int
}

// Cleanup prunes finished jobs and files last touched before the cutoff and
// trims persisted event history.
func (s *DownloadService) Cleanup(ctx context.Context, before time.Time) (*JanitorResult, error) {
	pruned, err := s.jobs.Prune(ctx, before)
	if err != nil {
		return nil, err
	}
	for _, id := range pruned {
		s.events.Forget(id)
	}

	removed, err := s.output.Prune(before)
	if err != nil {
		s.logger.Warn("file cleanup incomplete", "error", err)
	}

	if err := s.events.CleanupOldEvents(ctx); err != nil {
		s.logger.Warn("event cleanup failed", "error", err)
	}

	return &JanitorResult{JobsPruned: len(pruned), FilesRemoved: removed}, nil
}

// RunJanitor runs Cleanup every interval with the given retention until ctx
// is done.
func (s *DownloadService) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		s.logger.Info("janitor disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			result, err := s.Cleanup(ctx, now.Add(-retention))
			if err != nil {
				s.logger.Error("janitor pass failed", "error", err)
				continue
			}
			if result.JobsPruned > 0 || result.FilesRemoved > 0 {
				s.logger.Info("janitor pass complete",
					"jobs_pruned", result.JobsPruned,
					"files_removed", result.FilesRemoved,
				)
			}
		}
	}
}
