// Package queue implements the Queue Substrate (C2): per-region,
// per-runner-kind Redis queues with a concurrency gate, retry-with-backoff,
// stalled-job reclaim, and a lifecycle event bus (§4.2).
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind names the queue family, derived from the test type that produced the
// job (§4.4).
type Kind string

const (
	KindPlaywright Kind = "playwright"
	KindK6         Kind = "k6"
	KindMonitor    Kind = "monitor"
)

// Job is a single unit of queued work: a run waiting to be leased by a
// worker (§4.2, §4.5).
type Job struct {
	ID          string          `json:"id"`
	RunID       uuid.UUID       `json:"run_id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// EventType names a lifecycle transition published on the shared pub/sub
// channel (§4.2: added, waiting, active, completed, failed, stalled).
type EventType string

const (
	EventAdded     EventType = "added"
	EventWaiting   EventType = "waiting"
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
)

// LifecycleEvent is published for every job state change. The subscribing
// node does not need to own the job (§4.2).
type LifecycleEvent struct {
	Type      EventType `json:"type"`
	Queue     string    `json:"queue"`
	JobID     string    `json:"job_id"`
	RunID     uuid.UUID `json:"run_id"`
	Attempt   int       `json:"attempt"`
	Retriable bool      `json:"retriable,omitempty"`
	// RetryExhausted distinguishes, on a terminal EventFailed, a
	// substrate-level exhaustion of retry attempts from an explicit,
	// immediate non-retriable failure — the two map to different terminal
	// run statuses (§4.7).
	RetryExhausted bool      `json:"retry_exhausted,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

// Backend is the queue substrate's contract. A single Backend instance
// serves every queue name; Queue is always the first argument.
type Backend interface {
	// Enqueue adds a job to the named queue, publishing an "added" event.
	Enqueue(ctx context.Context, queueName string, job Job) error

	// Lease atomically checks and increments the queue's in-flight counter
	// and pops the next job, or returns (nil, false) if none is available
	// or the queue is at its concurrency limit.
	Lease(ctx context.Context, queueName string, maxInFlight int, visibility time.Duration) (*Job, bool, error)

	// Ack acknowledges successful (or terminally failed) completion,
	// decrementing the in-flight counter and publishing a "completed" or
	// "failed" event.
	Ack(ctx context.Context, job Job, outcome EventType) error

	// Nack releases a leased job back for retry (if retriable and under
	// max attempts, with exponential backoff) or marks it terminally
	// failed, decrementing the in-flight counter in both cases.
	Nack(ctx context.Context, job Job, retriable bool, reason string) error

	// ReclaimStalled re-queues jobs whose visibility timeout expired
	// without an Ack/Nack, incrementing their attempt count (§4.2 stalled
	// detection).
	ReclaimStalled(ctx context.Context, queueName string) (int, error)

	// Depth reports the current queue depth.
	Depth(ctx context.Context, queueName string) (int64, error)

	// Subscribe delivers every LifecycleEvent published across all queues
	// to fn until ctx is cancelled.
	Subscribe(ctx context.Context, fn func(LifecycleEvent)) error
}

// BackoffDelay computes the exponential backoff for a retry attempt
// (§4.2: base × 2^(attempt-1), capped).
func BackoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
