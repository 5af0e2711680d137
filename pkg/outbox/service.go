package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
	"github.com/keeply/keeply-backend/pkg/logger"
)

// DomainEvent is what membership operations hand to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

type inserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

// Service records domain events in the outbox table.
type Service struct {
	repo inserter
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit must run on the same tx as the state change it describes; the event
// then exists exactly when the change commits. The row id doubles as the
// envelope's event id.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	switch {
	case tx == nil:
		return errors.New("outbox: transaction required")
	case event.EventType == "":
		return errors.New("outbox: event type required")
	case event.AggregateID == "":
		return errors.New("outbox: aggregate id required")
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("outbox: encode %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    id.String(),
		OccurredAt: occurred.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("outbox: encode envelope: %w", err)
	}
	if err := s.repo.Insert(tx, models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("outbox: insert %s: %w", event.EventType, err)
	}

	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":     id.String(),
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
		}), "outbox.queued")
	}
	return nil
}
