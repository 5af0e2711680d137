package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
	"github.com/keeply/keeply-backend/pkg/metrics"
	"github.com/keeply/keeply-backend/pkg/outbox/registry"
)

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// processBatch handles one locked batch inside a single transaction. It reports
// whether any row was claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.ClaimPending(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events) > 0
		for _, event := range events {
			if err := s.deliver(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// deliver publishes one row and records the result. Only bookkeeping errors are returned.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"family_id":     event.AggregateID,
		"attempt_count": event.AttemptCount,
	})

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"topic":    resolved.Descriptor.Topic,
		"event_id": resolved.Envelope.EventID,
	})

	pubErr := s.publish(ctx, event, resolved)
	switch s.classify(event, pubErr) {
	case outcomePublished:
		if err := s.repo.MarkPublished(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.Inc(string(event.EventType), metrics.OutboxPublished)
		s.logg.Info(logCtx, "outbox.published")
	case outcomeRetry:
		s.logg.Warn(s.logg.WithField(logCtx, "error", pubErr.Error()), "outbox.publish_retry")
		s.metrics.Inc(string(event.EventType), metrics.OutboxRetried)
		if err := s.repo.RecordFailure(tx, event.ID, pubErr); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
	case outcomeDeadLetter:
		reason := enums.OutboxDLQReasonNonRetryable
		var nonRetry registry.NonRetryableError
		if !errors.As(pubErr, &nonRetry) {
			reason = enums.OutboxDLQReasonMaxAttempts
			pubErr = fmt.Errorf("max publish attempts reached: %w", pubErr)
		}
		return s.deadLetter(logCtx, tx, event, reason, pubErr)
	}
	return nil
}

func (s *Service) classify(event models.OutboxEvent, err error) outcome {
	if err == nil {
		return outcomePublished
	}
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) || event.AttemptCount+1 >= s.maxAttempts {
		return outcomeDeadLetter
	}
	return outcomeRetry
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox.dead_lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.Park(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.Inc(string(event.EventType), metrics.OutboxDeadLettered)
	return nil
}

// publish sends the stored envelope as-is. The family id doubles as the ordering
// key so subscribers see one family's events in commit order.
func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned no result for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}
