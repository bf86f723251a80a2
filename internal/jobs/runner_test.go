package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestRunner(q Queue, clock *testClock, maxAttempts int) *Runner {
	logger := zerolog.New(io.Discard)
	r := NewRunner(q, RunnerConfig{
		PollInterval: time.Millisecond,
		BatchSize:    10,
		Retry:        RetryConfig{MaxAttempts: maxAttempts, RetryDelays: []time.Duration{time.Minute, 5 * time.Minute}},
	}, &logger)
	r.SetClock(clock.Now)
	return r
}

func TestRunner_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(time.Minute)
	r := newTestRunner(q, clock, 3)

	calls := 0
	r.Handle("check", func(ctx context.Context, job Job) error {
		calls++
		return errors.New("store unavailable")
	})

	_, err := q.Schedule(ctx, Job{Key: "k1", Kind: "check", FireAt: clock.now})
	require.NoError(t, err)

	assert.Equal(t, 1, r.RunOnce(ctx))
	assert.Equal(t, 0, r.RunOnce(ctx), "retry is delayed")

	clock.now = clock.now.Add(time.Minute)
	assert.Equal(t, 1, r.RunOnce(ctx))

	clock.now = clock.now.Add(5 * time.Minute)
	assert.Equal(t, 1, r.RunOnce(ctx))

	clock.now = clock.now.Add(time.Hour)
	assert.Equal(t, 0, r.RunOnce(ctx))

	assert.Equal(t, 3, calls)
	failed := q.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Equal(t, "store unavailable", failed[0].LastError)
}

func TestRunner_SuccessAndPermanent(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(time.Minute)
	r := newTestRunner(q, clock, 5)

	var seen []string
	r.Handle("ok", func(ctx context.Context, job Job) error {
		seen = append(seen, job.Key)
		return nil
	})
	r.Handle("bad", func(ctx context.Context, job Job) error {
		return Permanent(errors.New("malformed payload"))
	})
	r.Handle("panics", func(ctx context.Context, job Job) error {
		panic("boom")
	})

	for _, j := range []Job{
		{Key: "a", Kind: "ok", FireAt: clock.now},
		{Key: "b", Kind: "bad", FireAt: clock.now},
		{Key: "c", Kind: "unknown", FireAt: clock.now},
		{Key: "d", Kind: "panics", FireAt: clock.now},
		{Key: "e", Kind: "ok", FireAt: clock.now.Add(time.Hour)},
	} {
		_, err := q.Schedule(ctx, j)
		require.NoError(t, err)
	}

	assert.Equal(t, 4, r.RunOnce(ctx))
	assert.Equal(t, []string{"a"}, seen)
	assert.Len(t, q.Failed(), 2, "permanent error and unknown kind fail immediately")
	assert.Equal(t, 2, q.Pending(), "panicking job is retried, future job waits")
}

func TestRunner_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue(time.Minute)
	logger := zerolog.New(io.Discard)
	r := NewRunner(q, RunnerConfig{PollInterval: time.Millisecond}, &logger)

	done := make(chan string, 1)
	r.Handle("check", func(ctx context.Context, job Job) error {
		done <- job.Key
		return nil
	})
	_, err := q.Schedule(ctx, Job{Key: "k", Kind: "check", FireAt: time.Now().Add(-time.Second)})
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(stopped)
	}()

	select {
	case key := <-done:
		assert.Equal(t, "k", key)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not run")
	}

	r.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Schedule(ctx context.Context, job Job) (bool, error) {
	args := m.Called(ctx, job)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Job), args.Error(1)
}

func (m *mockQueue) Complete(ctx context.Context, job Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockQueue) Retry(ctx context.Context, job Job, at time.Time, cause error) error {
	return m.Called(ctx, job, at, cause).Error(0)
}

func (m *mockQueue) Fail(ctx context.Context, job Job, cause error) error {
	return m.Called(ctx, job, cause).Error(0)
}

func TestFailoverQueue(t *testing.T) {
	ctx := context.Background()
	primary := new(mockQueue)
	fallback := NewMemoryQueue(time.Minute)
	logger := zerolog.New(io.Discard)
	q := NewFailoverQueue(primary, fallback, &logger)
	now := time.Now()

	t.Run("PrimarySuccess", func(t *testing.T) {
		job := Job{Key: "p1", Kind: "check", FireAt: now}
		primary.On("Schedule", ctx, job).Return(true, nil).Once()

		added, err := q.Schedule(ctx, job)
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, 0, fallback.Pending())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		job := Job{Key: "f1", Kind: "check", FireAt: now.Add(-time.Second)}
		primary.On("Schedule", ctx, job).Return(false, errors.New("connection refused")).Once()

		added, err := q.Schedule(ctx, job)
		require.NoError(t, err)
		assert.True(t, added)
		assert.True(t, q.isDown.Load())
		assert.Equal(t, 1, fallback.Pending())

		// While down, primary is not probed again and fallback jobs are drained.
		claimed, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, originFallback, claimed[0].origin)
		require.NoError(t, q.Complete(ctx, claimed[0]))
		assert.Equal(t, 0, fallback.Pending())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		q.isDown.Store(true)
		q.lastCheck = time.Now().Add(-2 * time.Minute)

		job := Job{Key: "p2", Kind: "check", FireAt: now}
		primary.On("Schedule", ctx, job).Return(true, nil).Once()

		_, err := q.Schedule(ctx, job)
		require.NoError(t, err)
		assert.False(t, q.isDown.Load())

		claimedJob := Job{Key: "p2", Kind: "check", FireAt: now}
		primary.On("ClaimDue", ctx, now, 10).Return([]Job{claimedJob}, nil).Once()
		claimed, err := q.ClaimDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, originPrimary, claimed[0].origin)

		primary.On("Complete", ctx, claimed[0]).Return(nil).Once()
		require.NoError(t, q.Complete(ctx, claimed[0]))
		primary.AssertExpectations(t)
	})
}
