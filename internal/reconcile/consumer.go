package reconcile

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/keeply/keeply-backend/internal/membership"
	pkgerrors "github.com/keeply/keeply-backend/pkg/errors"
	"github.com/keeply/keeply-backend/pkg/logger"
)

const consumerName = "user-deleted"

type reconciler interface {
	ReconcileDeletedUser(ctx context.Context, userID, email string) (*membership.ReconcileResult, error)
}

type avatarPurger interface {
	Purge(ctx context.Context, userID string) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, messageID string) (bool, error)
	Delete(ctx context.Context, consumer, messageID string) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type processResult struct {
	ack  bool
	nack bool
}

// Consumer strips deleted users out of their families. Pub/Sub redelivery is
// the retry policy, so every failure that may succeed later is nacked.
type Consumer struct {
	reconciler   reconciler
	avatars      avatarPurger
	manager      idempotencyChecker
	subscription receiver
	logg         *logger.Logger
}

// NewConsumer wires the reconcile job. avatars may be nil when object storage is not configured.
func NewConsumer(r reconciler, avatars avatarPurger, manager idempotencyChecker, subscription receiver, logg *logger.Logger) (*Consumer, error) {
	if r == nil {
		return nil, errors.New("reconciler is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if subscription == nil {
		return nil, errors.New("user deleted subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		reconciler:   r,
		avatars:      avatars,
		manager:      manager,
		subscription: subscription,
		logg:         logg,
	}, nil
}

// Run processes user-deleted messages until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (c *Consumer) process(ctx context.Context, messageID string, data []byte) processResult {
	ctx = c.logg.WithJob(ctx, consumerName)
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	del, err := decodeDeletion(data)
	if err != nil {
		c.logg.Error(c.logg.WithField(logCtx, "payload_len", len(data)), "reconcile.malformed_message", err)
		return processResult{ack: true}
	}
	dedupeID := firstNonEmpty(del.EventID, messageID)
	logCtx = c.logg.WithUserID(c.logg.WithField(logCtx, "event_id", dedupeID), del.UserID)

	if dedupeID != "" {
		already, err := c.manager.CheckAndMarkProcessed(ctx, consumerName, dedupeID)
		if err != nil {
			c.logg.Error(logCtx, "reconcile.idempotency_failed", err)
			return processResult{nack: true}
		}
		if already {
			c.logg.Info(logCtx, "reconcile.duplicate_skipped")
			return processResult{ack: true}
		}
	}

	if err := c.handle(logCtx, del); err != nil {
		if dedupeID != "" {
			if delErr := c.manager.Delete(ctx, consumerName, dedupeID); delErr != nil {
				c.logg.Error(logCtx, "reconcile.idempotency_release_failed", delErr)
			}
		}
		if !pkgerrors.Retryable(err) {
			c.logg.Error(logCtx, "reconcile.rejected", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "reconcile.failed", err)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) handle(ctx context.Context, del deletion) error {
	result, err := c.reconciler.ReconcileDeletedUser(ctx, del.UserID, del.Email)
	if err != nil {
		return err
	}
	if c.avatars != nil {
		if err := c.avatars.Purge(ctx, del.UserID); err != nil {
			return fmt.Errorf("purge avatar: %w", err)
		}
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"families_touched": result.FamiliesTouched,
		"members_removed":  result.MembersRemoved,
		"promoted":         result.Promoted,
	}), "reconcile.user_stripped")
	return nil
}
