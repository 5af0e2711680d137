package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/keeply/keeply-backend/pkg/logger"
)

func TestInviteExpiryJobSweepsInBatches(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeInviteSweepRepo{results: []int64{10, 10, 3}}
	job := newInviteExpiryJob(t, repo, 10)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", repo.calls)
	}
	expected := now.Add(-48 * time.Hour)
	if !repo.lastCutoff.Equal(expected) {
		t.Fatalf("expected cutoff %s, got %s", expected, repo.lastCutoff)
	}
	if repo.lastLimit != 10 {
		t.Fatalf("expected limit 10, got %d", repo.lastLimit)
	}
}

func TestInviteExpiryJobStopsOnEmptyBatch(t *testing.T) {
	repo := &fakeInviteSweepRepo{}
	job := newInviteExpiryJob(t, repo, 10)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("expected a single batch, got %d", repo.calls)
	}
}

func TestInviteExpiryJobPropagatesError(t *testing.T) {
	repo := &fakeInviteSweepRepo{err: errors.New("db down")}
	job := newInviteExpiryJob(t, repo, 10)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestInviteExpiryJobDefaults(t *testing.T) {
	jobIface, err := NewInviteExpiryJob(InviteExpiryJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repository: &fakeInviteSweepRepo{},
	})
	if err != nil {
		t.Fatalf("NewInviteExpiryJob: %v", err)
	}
	job := jobIface.(*inviteExpiryJob)
	if job.retention != defaultInviteRetention || job.batch != defaultSweepBatchSize {
		t.Fatalf("unexpected defaults retention=%s batch=%d", job.retention, job.batch)
	}
	if _, err := NewInviteExpiryJob(InviteExpiryJobParams{Repository: &fakeInviteSweepRepo{}}); err == nil {
		t.Fatal("expected logger error")
	}
}

func newInviteExpiryJob(t *testing.T, repo *fakeInviteSweepRepo, batch int) *inviteExpiryJob {
	t.Helper()
	jobIface, err := NewInviteExpiryJob(InviteExpiryJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Repository: repo,
		Retention:  48 * time.Hour,
		BatchSize:  batch,
	})
	if err != nil {
		t.Fatalf("NewInviteExpiryJob: %v", err)
	}
	return jobIface.(*inviteExpiryJob)
}

type fakeInviteSweepRepo struct {
	results    []int64
	calls      int
	lastCutoff time.Time
	lastLimit  int
	err        error
}

func (f *fakeInviteSweepRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	f.calls++
	f.lastCutoff = cutoff
	f.lastLimit = limit
	if f.err != nil {
		return 0, f.err
	}
	if len(f.results) == 0 {
		return 0, nil
	}
	rows := f.results[0]
	f.results = f.results[1:]
	return rows, nil
}
