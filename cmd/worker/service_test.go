package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/logger"
)

type fakePinger struct {
	err   error
	calls int
}

func (f *fakePinger) Ping(context.Context) error {
	f.calls++
	return f.err
}

type fakeConsumer struct {
	err error
	ran bool
}

func (f *fakeConsumer) Run(context.Context) error {
	f.ran = true
	return f.err
}

func testParams() ServiceParams {
	return ServiceParams{
		Config:    &config.Config{},
		Logger:    logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:        &fakePinger{},
		Redis:     &fakePinger{},
		PubSub:    &fakePinger{},
		Reconcile: &fakeConsumer{},
	}
}

func TestRunStopsWhenDependencyUnavailable(t *testing.T) {
	params := testParams()
	params.Redis = &fakePinger{err: errors.New("connection refused")}
	cons := &fakeConsumer{}
	params.Reconcile = cons

	svc, err := NewService(params)
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "redis ping failed")
	require.False(t, cons.ran)
}

func TestRunReturnsConsumerError(t *testing.T) {
	params := testParams()
	gcs := &fakePinger{}
	params.GCS = gcs
	params.Reconcile = &fakeConsumer{err: errors.New("subscription gone")}

	svc, err := NewService(params)
	require.NoError(t, err)

	require.EqualError(t, svc.Run(context.Background()), "subscription gone")
	require.Equal(t, 1, gcs.calls)
}

func TestNewServiceRequiresConsumer(t *testing.T) {
	params := testParams()
	params.Reconcile = nil
	_, err := NewService(params)
	require.Error(t, err)
}
