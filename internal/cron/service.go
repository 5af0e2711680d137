package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keeply/keeply-backend/pkg/logger"
	"github.com/keeply/keeply-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Hour
	defaultJobTimeout = 5 * time.Minute
)

type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Locker
	Metrics    *metrics.CronMetrics
	Interval   time.Duration
	JobTimeout time.Duration
	Now        func() time.Time
}

// Service runs every registered job once per interval. Only the instance
// holding the lock runs a cycle.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Locker
	metrics    *metrics.CronMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("cron: logger required")
	case params.Lock == nil:
		return nil, errors.New("cron: lock required")
	}
	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        params.Now,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = defaultJobTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run fires a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	held, err := s.lock.TryLock(ctx)
	if errors.Is(err, ErrLockHeld) {
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "cron.cycle_skipped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("cron: lock: %w", err)
	}
	defer func() {
		// the cycle ctx may already be done; the lease still has to go
		if err := held.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron.unlock_failed", err)
		}
	}()

	var failed int
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.runJob(ctx, job) != nil {
			failed++
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":   len(s.registry.Jobs()),
		"failed": failed,
	}), "cron.cycle_done")
	return nil
}

// runJob isolates one job: its failure is logged and counted but never stops
// the rest of the cycle.
func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx, cancel := context.WithTimeout(s.logg.WithJob(ctx, job.Name()), s.jobTimeout)
	defer cancel()

	started := s.now()
	err := job.Run(jobCtx)
	finished := s.now()
	elapsed := finished.Sub(started)
	s.metrics.ObserveRun(job.Name(), err, elapsed, finished)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron.job_failed", err)
		return err
	}
	s.logg.Info(jobCtx, "cron.job_done")
	return nil
}
