package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keeply/keeply-backend/pkg/logger"
)

const defaultInviteRetention = 30 * 24 * time.Hour

type InviteExpiryJobParams struct {
	Logger     *logger.Logger
	Repository inviteSweepRepo
	Retention  time.Duration
	BatchSize  int
}

type inviteSweepRepo interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// NewInviteExpiryJob deletes pending invites that expired more than Retention ago.
func NewInviteExpiryJob(params InviteExpiryJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Repository == nil:
		return nil, errors.New("invite repository required")
	}
	job := &inviteExpiryJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultInviteRetention
	}
	if job.batch <= 0 {
		job.batch = defaultSweepBatchSize
	}
	return job, nil
}

type inviteExpiryJob struct {
	logg      *logger.Logger
	repo      inviteSweepRepo
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *inviteExpiryJob) Name() string { return "invite-expiry-sweep" }

func (j *inviteExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	stats, err := sweep(ctx, j.batch, func(ctx context.Context, limit int) (int64, error) {
		return j.repo.DeleteExpiredBefore(ctx, cutoff, limit)
	})
	if err != nil {
		return fmt.Errorf("invite expiry sweep: %w", err)
	}
	logSweep(ctx, j.logg, j.Name(), cutoff, stats)
	return nil
}
