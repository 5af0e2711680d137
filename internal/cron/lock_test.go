package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values map[string]string
	err    error
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryLockStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

const testLockKey = "keeply:lock:cron-worker:test"

func TestRedisLockExcludesSecondInstance(t *testing.T) {
	store := newMemoryLockStore()
	first, err := NewRedisLock(store, testLockKey, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, testLockKey, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	held, err := first.TryLock(ctx)
	require.NoError(t, err)

	_, err = second.TryLock(ctx)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, held.Unlock(ctx))
	again, err := second.TryLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestStaleLeaseDoesNotFreeSuccessor(t *testing.T) {
	store := newMemoryLockStore()
	lock, err := NewRedisLock(store, testLockKey, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	stale, err := lock.TryLock(ctx)
	require.NoError(t, err)
	// ttl expiry followed by another instance taking over
	store.values[testLockKey] = "successor"

	require.NoError(t, stale.Unlock(ctx))
	assert.Equal(t, "successor", store.values[testLockKey])

	delete(store.values, testLockKey)
	assert.NoError(t, stale.Unlock(ctx), "unlocking an expired key is a no-op")
}

func TestRedisLockSurfacesStoreErrors(t *testing.T) {
	store := newMemoryLockStore()
	store.err = errors.New("connection refused")
	lock, err := NewRedisLock(store, testLockKey, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)

	_, err = lock.TryLock(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockHeld)
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, testLockKey, time.Minute)
	assert.Error(t, err)
	_, err = NewRedisLock(newMemoryLockStore(), "", time.Minute)
	assert.Error(t, err)
}
