package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keeply/keeply-backend/internal/bootstrap"
	"github.com/keeply/keeply-backend/internal/cron"
	"github.com/keeply/keeply-backend/internal/invites"
	"github.com/keeply/keeply-backend/pkg/metrics"
	"github.com/keeply/keeply-backend/pkg/outbox"
)

func main() {
	proc := bootstrap.Start("cron-worker")
	defer proc.Close()
	ctx, stop := proc.Context()
	defer stop()
	cfg, logg := proc.Config, proc.Logger

	conn := proc.Database(ctx).DB()
	redisClient := proc.Redis(ctx)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	proc.Check(ctx, "cron lock", err)

	inviteSweep, err := cron.NewInviteExpiryJob(cron.InviteExpiryJobParams{
		Logger:     logg,
		Repository: invites.NewRepository(conn),
		Retention:  cfg.Cron.InviteRetention,
		BatchSize:  cfg.Cron.SweepBatchSize,
	})
	proc.Check(ctx, "invite expiry job", err)

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:         logg,
		Repository:     outbox.NewRepository(conn),
		Retention:      cfg.Cron.OutboxRetention,
		ParkedAttempts: cfg.Outbox.MaxAttempts,
		BatchSize:      cfg.Cron.SweepBatchSize,
	})
	proc.Check(ctx, "outbox retention job", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(inviteSweep, outboxRetention),
		Lock:       lock,
		Metrics:    metrics.NewCronMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	proc.Check(ctx, "cron service", err)

	logg.Info(ctx, "cron-worker.started")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(ctx, "cron-worker.crashed", err)
	}
	logg.Info(ctx, "cron-worker.stopped")
}

// lockName scopes the cron lease per environment.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
