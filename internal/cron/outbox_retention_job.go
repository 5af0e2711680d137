package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keeply/keeply-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxPruner
	Retention  time.Duration
	// ParkedAttempts is the publisher's attempt ceiling; undelivered rows that
	// reached it are treated as finished.
	ParkedAttempts int
	BatchSize      int
}

type outboxPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time, parkedAttempts, limit int) (int64, error)
}

// NewOutboxRetentionJob removes family events that were delivered, or parked
// after exhausting their attempts, more than Retention ago.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	case params.ParkedAttempts <= 0:
		return nil, errors.New("parked attempt ceiling must be positive")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: params.Retention,
		parked:    params.ParkedAttempts,
		batch:     params.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.batch <= 0 {
		job.batch = defaultSweepBatchSize
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxPruner
	retention time.Duration
	parked    int
	batch     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	stats, err := sweep(ctx, j.batch, func(ctx context.Context, limit int) (int64, error) {
		return j.repo.PruneBefore(ctx, cutoff, j.parked, limit)
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logSweep(ctx, j.logg, j.Name(), cutoff, stats)
	return nil
}
