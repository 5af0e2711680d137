package main

import (
	"context"
	"errors"

	"github.com/keeply/keeply-backend/internal/bootstrap"
	"github.com/keeply/keeply-backend/internal/reconcile"
	"github.com/keeply/keeply-backend/pkg/outbox/idempotency"
	"github.com/keeply/keeply-backend/pkg/pubsub"
)

func main() {
	proc := bootstrap.Start("worker")
	defer proc.Close()
	ctx, stop := proc.Context()
	defer stop()
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.Database(ctx)
	redisClient := proc.Redis(ctx)
	pubsubClient := proc.PubSub(ctx, pubsub.RoleConsumer)
	domain := proc.Domain(ctx, dbClient, nil)

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	proc.Check(ctx, "idempotency manager", err)

	subscription := pubsubClient.UserDeletedSubscription()
	if subscription == nil {
		proc.Fatal(ctx, "worker.subscription_missing", errors.New("KEEPLY_PUBSUB_USER_DELETED_SUBSCRIPTION is empty"))
		return
	}
	consumer, err := reconcile.NewConsumer(domain.Membership, domain.Avatars, dedupe, subscription, logg)
	proc.Check(ctx, "reconcile consumer", err)

	service, err := NewService(ServiceParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisClient,
		PubSub:    pubsubClient,
		GCS:       domain.Objects,
		Reconcile: consumer,
	})
	proc.Check(ctx, "worker service", err)

	logg.Info(ctx, "worker.started")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(ctx, "worker.crashed", err)
	}
	logg.Info(ctx, "worker.stopped")
}
