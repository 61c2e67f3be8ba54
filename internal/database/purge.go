package database

import (
	"context"
	"log/slog"
	"time"

	"medrelay/internal/logger"
)

// Purger drops revocations that no longer matter
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PurgeJob periodically purges expired revocations
type PurgeJob struct {
	purger   Purger
	interval time.Duration
	logger   *slog.Logger
}

func NewPurgeJob(purger Purger, interval time.Duration, log *slog.Logger) *PurgeJob {
	return &PurgeJob{
		purger:   purger,
		interval: interval,
		logger:   logger.OrDefault(log),
	}
}

// Run purges once and logs the outcome
func (j *PurgeJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("revocation purge failed", slog.String("error", err.Error()))
		return err
	}

	j.logger.Info("revocation purge completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start runs the job every interval until ctx is done
func (j *PurgeJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = j.Run(ctx)
		case <-ctx.Done():
			return
		}
	}
}
