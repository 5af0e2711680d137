package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        pinger
	Redis     pinger
	PubSub    pinger
	GCS       pinger
	Reconcile consumer
}

type Service struct {
	cfg       *config.Config
	logg      *logger.Logger
	deps      []namedPinger
	reconcile consumer
}

type namedPinger struct {
	name string
	dep  pinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Reconcile == nil {
		return nil, errors.New("reconcile consumer is required")
	}

	deps := []namedPinger{
		{name: "database", dep: params.DB},
		{name: "redis", dep: params.Redis},
		{name: "pubsub", dep: params.PubSub},
	}
	if params.GCS != nil {
		deps = append(deps, namedPinger{name: "gcs", dep: params.GCS})
	}

	return &Service{
		cfg:       params.Config,
		logg:      params.Logger,
		deps:      deps,
		reconcile: params.Reconcile,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, d := range s.deps {
		if err := pingDependency(ctx, s.logg, d.name, d.dep.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until the context is canceled or the consumer stops.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.reconcile.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "reconcile consumer stopped unexpectedly", err)
			return err
		}
		return err
	}
}
