package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keeply/keeply-backend/internal/bootstrap"
	"github.com/keeply/keeply-backend/pkg/metrics"
	"github.com/keeply/keeply-backend/pkg/outbox"
	"github.com/keeply/keeply-backend/pkg/outbox/registry"
	"github.com/keeply/keeply-backend/pkg/pubsub"
)

func main() {
	proc := bootstrap.Start("outbox-publisher")
	defer proc.Close()
	ctx, stop := proc.Context()
	defer stop()
	cfg, logg := proc.Config, proc.Logger

	dbClient := proc.Database(ctx)
	pubsubClient := proc.PubSub(ctx, pubsub.RolePublisher)

	events, err := registry.NewEventRegistry(cfg.PubSub)
	proc.Check(ctx, "event registry", err)

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      events,
		DLQRepository: outbox.NewDLQRepository(),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	proc.Check(ctx, "outbox publisher", err)

	logg.Info(ctx, "outbox-publisher.started")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fatal(ctx, "outbox-publisher.crashed", err)
	}
	logg.Info(ctx, "outbox-publisher.stopped")
}
