package cron

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 10 * time.Minute

// ErrLockHeld means another instance owns the cycle.
var ErrLockHeld = errors.New("cron: lock held by another instance")

type Locker interface {
	TryLock(ctx context.Context) (Unlocker, error)
}

type Unlocker interface {
	Unlock(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock hands out leases on one key. A crashed holder blocks other
// instances for at most ttl.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("cron: lock store required")
	case key == "":
		return nil, errors.New("cron: lock key required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) TryLock(ctx context.Context) (Unlocker, error) {
	token := ulid.MustNew(ulid.Now(), rand.Reader).String()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("cron: take lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &lease{lock: l, token: token}, nil
}

type lease struct {
	lock  *RedisLock
	token string
}

// Unlock deletes the key only while it still carries this lease's token, so
// a lease that outlived its ttl cannot free a successor's lock.
func (le *lease) Unlock(ctx context.Context) error {
	current, err := le.lock.store.Get(ctx, le.lock.key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("cron: read lock %s: %w", le.lock.key, err)
	case current != le.token:
		return nil
	}
	if err := le.lock.store.Del(ctx, le.lock.key); err != nil {
		return fmt.Errorf("cron: free lock %s: %w", le.lock.key, err)
	}
	return nil
}
