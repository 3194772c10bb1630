package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/supercheck-io/supercheck/internal/telemetry"
)

const eventsChannel = "supercheck:queue:events"

// leaseScript atomically enforces the per-queue concurrency gate (§4.2):
// it only pops a job off the ready list once the in-flight zset is below
// maxInFlight, and records the new job's visibility deadline in the same
// round trip so no other worker can observe a half-leased state.
var leaseScript = redis.NewScript(`
local ready = KEYS[1]
local inflight = KEYS[2]
local maxInFlight = tonumber(ARGV[1])
local deadline = ARGV[2]

local current = redis.call('ZCARD', inflight)
if current >= maxInFlight then
  return nil
end

local jobID = redis.call('LPOP', ready)
if not jobID then
  return nil
end

redis.call('ZADD', inflight, deadline, jobID)
return jobID
`)

// RedisQueue is a Backend backed by Redis lists (FIFO order), a sorted set
// per queue tracking in-flight leases (doubling as the concurrency gate and
// the visibility-timeout index), and a single pub/sub channel for lifecycle
// events (§4.2).
type RedisQueue struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisQueue builds a RedisQueue.
func NewRedisQueue(rdb *redis.Client, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, logger: logger}
}

func readyKey(queueName string) string    { return "queue:" + queueName + ":ready" }
func inflightKey(queueName string) string { return "queue:" + queueName + ":inflight" }
func delayedKey(queueName string) string  { return "queue:" + queueName + ":delayed" }
func jobsKey(queueName string) string     { return "queue:" + queueName + ":jobs" }

// Enqueue adds a job to the named queue's ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, job Job) error {
	job.Queue = queueName
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobsKey(queueName), job.ID, b)
	pipe.RPush(ctx, readyKey(queueName), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}

	telemetry.QueueEnqueuedTotal.WithLabelValues(queueName).Inc()
	q.publish(ctx, LifecycleEvent{Type: EventAdded, Queue: queueName, JobID: job.ID, RunID: job.RunID, Attempt: job.Attempt, At: time.Now()})
	return nil
}

// Lease atomically checks the concurrency gate and pops the next ready job.
func (q *RedisQueue) Lease(ctx context.Context, queueName string, maxInFlight int, visibility time.Duration) (*Job, bool, error) {
	q.promoteDelayed(ctx, queueName)

	deadline := time.Now().Add(visibility).UnixMilli()
	res, err := leaseScript.Run(ctx, q.rdb, []string{readyKey(queueName), inflightKey(queueName)}, maxInFlight, deadline).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("queue: lease: %w", err)
	}
	jobID, ok := res.(string)
	if !ok || jobID == "" {
		return nil, false, nil
	}

	raw, err := q.rdb.HGet(ctx, jobsKey(queueName), jobID).Result()
	if err != nil {
		return nil, false, fmt.Errorf("queue: lease: load job body: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false, fmt.Errorf("queue: lease: unmarshal job: %w", err)
	}

	telemetry.QueueLeasedTotal.WithLabelValues(queueName).Inc()
	telemetry.QueueInFlight.WithLabelValues(queueName).Set(float64(q.mustInFlightCount(ctx, queueName)))
	q.publish(ctx, LifecycleEvent{Type: EventActive, Queue: queueName, JobID: job.ID, RunID: job.RunID, Attempt: job.Attempt, At: time.Now()})
	return &job, true, nil
}

// Ack acknowledges a terminal outcome, releasing the in-flight slot.
func (q *RedisQueue) Ack(ctx context.Context, job Job, outcome EventType) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, inflightKey(job.Queue), job.ID)
	pipe.HDel(ctx, jobsKey(job.Queue), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}

	telemetry.QueueAckTotal.WithLabelValues(job.Queue).Inc()
	telemetry.QueueInFlight.WithLabelValues(job.Queue).Set(float64(q.mustInFlightCount(ctx, job.Queue)))
	q.publish(ctx, LifecycleEvent{Type: outcome, Queue: job.Queue, JobID: job.ID, RunID: job.RunID, Attempt: job.Attempt, At: time.Now()})
	return nil
}

// Nack releases the in-flight slot and either re-queues the job with
// exponential backoff or marks it terminally failed (§4.2 retry policy).
func (q *RedisQueue) Nack(ctx context.Context, job Job, retriable bool, reason string) error {
	if _, err := q.rdb.ZRem(ctx, inflightKey(job.Queue), job.ID).Result(); err != nil {
		return fmt.Errorf("queue: nack: release in-flight: %w", err)
	}
	telemetry.QueueInFlight.WithLabelValues(job.Queue).Set(float64(q.mustInFlightCount(ctx, job.Queue)))

	if !retriable || job.Attempt >= job.MaxAttempts {
		exhausted := retriable && job.Attempt >= job.MaxAttempts
		telemetry.QueueNackTotal.WithLabelValues(job.Queue, "false").Inc()
		if _, err := q.rdb.HDel(ctx, jobsKey(job.Queue), job.ID).Result(); err != nil {
			return fmt.Errorf("queue: nack: remove job body: %w", err)
		}
		q.publish(ctx, LifecycleEvent{Type: EventFailed, Queue: job.Queue, JobID: job.ID, RunID: job.RunID, Attempt: job.Attempt, Retriable: false, RetryExhausted: exhausted, Reason: reason, At: time.Now()})
		return nil
	}

	telemetry.QueueNackTotal.WithLabelValues(job.Queue, "true").Inc()
	job.Attempt++
	delay := BackoffDelay(1*time.Second, 5*time.Minute, job.Attempt)
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: nack: marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobsKey(job.Queue), job.ID, b)
	pipe.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: float64(time.Now().Add(delay).UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: nack: requeue: %w", err)
	}

	q.publish(ctx, LifecycleEvent{Type: EventWaiting, Queue: job.Queue, JobID: job.ID, RunID: job.RunID, Attempt: job.Attempt, Retriable: true, Reason: reason, At: time.Now()})
	return nil
}

// promoteDelayed moves retry-delayed jobs whose backoff has elapsed back
// onto the ready list.
func (q *RedisQueue) promoteDelayed(ctx context.Context, queueName string) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, delayedKey(queueName), id)
		pipe.RPush(ctx, readyKey(queueName), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("queue: promote delayed jobs", "queue", queueName, "error", err)
	}
}

// ReclaimStalled re-queues jobs whose visibility deadline has passed
// without an Ack/Nack (§4.2 stalled detection).
func (q *RedisQueue) ReclaimStalled(ctx context.Context, queueName string) (int, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, inflightKey(queueName), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: reclaim stalled: %w", err)
	}

	reclaimed := 0
	for _, id := range ids {
		raw, err := q.rdb.HGet(ctx, jobsKey(queueName), id).Result()
		if err != nil {
			q.logger.Warn("queue: reclaim stalled: missing job body", "queue", queueName, "job_id", id)
			q.rdb.ZRem(ctx, inflightKey(queueName), id)
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Warn("queue: reclaim stalled: bad job body", "queue", queueName, "job_id", id, "error", err)
			continue
		}
		job.Attempt++

		b, _ := json.Marshal(job)
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, inflightKey(queueName), id)
		pipe.HSet(ctx, jobsKey(queueName), id, b)
		pipe.RPush(ctx, readyKey(queueName), id)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Warn("queue: reclaim stalled: requeue failed", "queue", queueName, "job_id", id, "error", err)
			continue
		}

		reclaimed++
		telemetry.QueueStalledReclaimedTotal.WithLabelValues(queueName).Inc()
		q.publish(ctx, LifecycleEvent{Type: EventStalled, Queue: queueName, JobID: job.ID, RunID: job.RunID, Attempt: job.Attempt, At: time.Now()})
	}
	return reclaimed, nil
}

// Depth reports the ready-list length; in-flight and delayed jobs are not
// counted.
func (q *RedisQueue) Depth(ctx context.Context, queueName string) (int64, error) {
	ready, err := q.rdb.LLen(ctx, readyKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return ready, nil
}

func (q *RedisQueue) mustInFlightCount(ctx context.Context, queueName string) int64 {
	n, err := q.rdb.ZCard(ctx, inflightKey(queueName)).Result()
	if err != nil {
		return 0
	}
	return n
}

func (q *RedisQueue) publish(ctx context.Context, ev LifecycleEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		q.logger.Warn("queue: marshal lifecycle event", "error", err)
		return
	}
	if err := q.rdb.Publish(ctx, eventsChannel, b).Err(); err != nil {
		q.logger.Warn("queue: publish lifecycle event", "error", err)
	}
}

// Subscribe delivers every LifecycleEvent published across all queues to fn
// until ctx is cancelled. The subscribing node does not need to own the job
// (§4.2) — any process can observe the full event stream.
func (q *RedisQueue) Subscribe(ctx context.Context, fn func(LifecycleEvent)) error {
	pubsub := q.rdb.Subscribe(ctx, eventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev LifecycleEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				q.logger.Warn("queue: unmarshal lifecycle event", "error", err)
				continue
			}
			fn(ev)
		}
	}
}
