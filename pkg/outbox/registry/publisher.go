package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/db/models"
	"github.com/keeply/keeply-backend/pkg/enums"
	"github.com/keeply/keeply-backend/pkg/outbox"
	"github.com/keeply/keeply-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry. Every family, invite and user event is fanned out
// on the domain events topic; consumers filter on the event_type attribute.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.DomainEventsTopic)
	if topic == "" {
		return nil, fmt.Errorf("domain events topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	memberEvent := func() interface{} { return &payloads.MemberEvent{} }
	inviteEvent := func() interface{} { return &payloads.InviteEvent{} }

	for _, desc := range []EventDescriptor{
		{EventType: enums.EventFamilyCreated, AggregateType: enums.AggregateFamily, PayloadFactory: func() interface{} { return &payloads.FamilyCreatedEvent{} }},
		{EventType: enums.EventFamilyUpdated, AggregateType: enums.AggregateFamily, PayloadFactory: func() interface{} { return &payloads.FamilyUpdatedEvent{} }},
		{EventType: enums.EventFamilyDeleted, AggregateType: enums.AggregateFamily, PayloadFactory: func() interface{} { return &payloads.FamilyDeletedEvent{} }},
		{EventType: enums.EventMemberJoined, AggregateType: enums.AggregateFamily, PayloadFactory: memberEvent},
		{EventType: enums.EventMemberRemoved, AggregateType: enums.AggregateFamily, PayloadFactory: memberEvent},
		{EventType: enums.EventMemberLeft, AggregateType: enums.AggregateFamily, PayloadFactory: memberEvent},
		{EventType: enums.EventMemberRoleChanged, AggregateType: enums.AggregateFamily, PayloadFactory: func() interface{} { return &payloads.RoleChangedEvent{} }},
		{EventType: enums.EventOwnershipTransferred, AggregateType: enums.AggregateFamily, PayloadFactory: func() interface{} { return &payloads.OwnershipTransferredEvent{} }},
		{EventType: enums.EventInviteCreated, AggregateType: enums.AggregateInvite, PayloadFactory: inviteEvent},
		{EventType: enums.EventInviteAccepted, AggregateType: enums.AggregateInvite, PayloadFactory: inviteEvent},
		{EventType: enums.EventInviteRevoked, AggregateType: enums.AggregateInvite, PayloadFactory: inviteEvent},
		{EventType: enums.EventDeletedUserReconciled, AggregateType: enums.AggregateUser, PayloadFactory: func() interface{} { return &payloads.DeletedUserReconciledEvent{} }},
	} {
		desc.Topic = topic
		reg.register(desc)
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if strings.TrimSpace(event.AggregateID) == "" {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
