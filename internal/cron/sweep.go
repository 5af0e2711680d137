package cron

import (
	"context"
	"time"

	"github.com/keeply/keeply-backend/pkg/logger"
)

const (
	defaultSweepBatchSize = 500
	maxSweepBatches       = 200
)

type sweepStats struct {
	batches int
	rows    int64
	capped  bool
}

// sweep calls del with a fixed limit until a batch comes back short. It stops
// after maxSweepBatches and leaves the remainder for the next cycle.
func sweep(ctx context.Context, limit int, del func(ctx context.Context, limit int) (int64, error)) (sweepStats, error) {
	var stats sweepStats
	for stats.batches < maxSweepBatches {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := del(ctx, limit)
		if err != nil {
			return stats, err
		}
		stats.batches++
		stats.rows += n
		if n < int64(limit) {
			return stats, nil
		}
	}
	stats.capped = true
	return stats, nil
}

func logSweep(ctx context.Context, logg *logger.Logger, job string, cutoff time.Time, stats sweepStats) {
	ctx = logg.WithFields(ctx, map[string]any{
		"job":          job,
		"cutoff":       cutoff,
		"batches":      stats.batches,
		"rows_deleted": stats.rows,
	})
	if stats.capped {
		logg.Warn(ctx, "cron.sweep_capped")
		return
	}
	logg.Info(ctx, "cron.sweep_done")
}
