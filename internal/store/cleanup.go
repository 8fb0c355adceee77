package store

import (
	"context"
	"log/slog"
	"time"
)

// StartCleanupWorker starts a background sweep that deletes sessions idle
// longer than ttl. Stops when ctx is cancelled.
func StartCleanupWorker(ctx context.Context, repo Repository, ttl, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Session cleanup worker stopped")
				return
			case <-ticker.C:
				deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
				if err != nil {
					slog.Warn("Session cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("Expired sessions removed", "count", deleted, "ttl", ttl)
				}
			}
		}
	}()
}
