package jobs

import (
	"context"
	"log"
	"time"

	"reactionmap/progress/internal/config"
	"reactionmap/progress/internal/metrics"
)

// Pruner removes expired sessions. progress.Service satisfies it.
type Pruner interface {
	PruneSessions(ctx context.Context) (int64, error)
}

func StartSessionCleanupJob(ctx context.Context, cfg config.Config, pruner Pruner) <-chan struct{} {
	done := make(chan struct{})
	if !cfg.CleanupJobEnabled || pruner == nil {
		close(done)
		return done
	}
	interval := cfg.CleanupJobInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.CleanupJobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				removed, err := pruner.PruneSessions(tickCtx)
				cancel()
				if err != nil {
					log.Printf("session cleanup job error: %v", err)
					continue
				}
				metrics.SessionsPruned.Add(float64(removed))
				if removed > 0 {
					log.Printf("session cleanup job removed %d sessions", removed)
				}
			}
		}
	}()
	return done
}
