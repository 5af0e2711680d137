// Package idempotency deduplicates at-least-once Pub/Sub deliveries.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

type markStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager marks message ids as processed per consumer. A mark lives for ttl;
// a redelivery inside that window is reported as a duplicate.
type Manager struct {
	store markStore
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store markStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency: store is required")
	}
	if ttl < 0 {
		return nil, errors.New("idempotency: ttl must not be negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// CheckAndMarkProcessed claims messageID for consumer and reports whether an
// earlier delivery already held the claim. A consumer that fails after
// claiming must Delete the mark so the redelivery is handled.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, messageID string) (bool, error) {
	key, err := m.key(consumer, messageID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

func (m *Manager) Delete(ctx context.Context, consumer, messageID string) error {
	key, err := m.key(consumer, messageID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// key yields keeply:idempotency:evt:processed:<consumer>:<message id>.
func (m *Manager) key(consumer, messageID string) (string, error) {
	messageID = strings.TrimSpace(messageID)
	switch {
	case consumer == "":
		return "", errors.New("idempotency: consumer name is required")
	case messageID == "":
		return "", errors.New("idempotency: message id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, messageID), nil
}
