package queue

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewRedisQueue(rdb, slog.Default())
}

func TestRedisQueue_EnqueueLease(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := Job{ID: uuid.NewString(), RunID: uuid.New(), MaxAttempts: 3}
	require.NoError(t, q.Enqueue(ctx, "playwright-exec-us-east", job))

	leased, ok, err := q.Lease(ctx, "playwright-exec-us-east", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, job.ID, leased.ID)

	_, ok, err = q.Lease(ctx, "playwright-exec-us-east", 1, time.Minute)
	require.NoError(t, err, "concurrency gate should block a second lease at max_in_flight=1")
	require.False(t, ok)
}

func TestRedisQueue_AckReleasesSlot(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := Job{ID: uuid.NewString(), RunID: uuid.New(), MaxAttempts: 3}
	require.NoError(t, q.Enqueue(ctx, "k6-exec-global", job))

	leased, ok, err := q.Lease(ctx, "k6-exec-global", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Ack(ctx, *leased, EventCompleted))

	require.NoError(t, q.Enqueue(ctx, "k6-exec-global", Job{ID: uuid.NewString(), RunID: uuid.New(), MaxAttempts: 3}))
	_, ok, err = q.Lease(ctx, "k6-exec-global", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "acking should free the concurrency slot for the next job")
}

func TestRedisQueue_NackRetriableRequeues(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := Job{ID: uuid.NewString(), RunID: uuid.New(), Attempt: 1, MaxAttempts: 3}
	require.NoError(t, q.Enqueue(ctx, "monitor-exec-global", job))

	leased, ok, err := q.Lease(ctx, "monitor-exec-global", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Nack(ctx, *leased, true, "transient failure"))

	depth, err := q.rdb.ZCard(ctx, delayedKey("monitor-exec-global")).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth, "retriable nack should land the job in the delayed set")
}

func TestRedisQueue_NackExhaustedFails(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := Job{ID: uuid.NewString(), RunID: uuid.New(), Attempt: 3, MaxAttempts: 3}
	require.NoError(t, q.Enqueue(ctx, "monitor-exec-global", job))

	leased, ok, err := q.Lease(ctx, "monitor-exec-global", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Nack(ctx, *leased, true, "still failing"))

	exists, err := q.rdb.HExists(ctx, jobsKey("monitor-exec-global"), job.ID).Result()
	require.NoError(t, err)
	require.False(t, exists, "exhausting max_attempts should drop the job rather than requeue it")
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 5 * time.Minute}, // capped
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, BackoffDelay(1*time.Second, 5*time.Minute, tt.attempt))
	}
}
