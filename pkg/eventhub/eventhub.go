// Package eventhub implements the Event Hub (C7): it normalizes queue
// lifecycle events into run status transitions and fans them out to
// subscribers (the SSE gateway, C8) with bounded, best-effort delivery
// (§4.7).
package eventhub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supercheck-io/supercheck/internal/telemetry"
	"github.com/supercheck-io/supercheck/pkg/queue"
	"github.com/supercheck-io/supercheck/pkg/run"
)

// NormalizedQueueEvent is the status-derived projection of a queue.LifecycleEvent
// that subscribers actually care about (§4.7 status-derivation rule).
type NormalizedQueueEvent struct {
	RunID     uuid.UUID
	Status    run.Status
	Attempt   int
	Reason    string
	Dropped   bool
	Timestamp time.Time
	// ArtifactURLs carries freshly presigned artifact links, populated by
	// the SSE gateway (not the hub itself) only for terminal events (§4.7,
	// §4.8: "terminal SSE events include fresh artifact urls fetched from
	// C1").
	ArtifactURLs []string
}

// deriveStatus maps a queue lifecycle event to a run status (§4.7):
// completed→passed (subject to the report-agreement override applied by
// the test-scoped SSE endpoint, not here), failed→error when retriable
// attempts remain exhausted else failed, active→running, waiting/added→queued.
func deriveStatus(ev queue.LifecycleEvent) (run.Status, bool) {
	switch ev.Type {
	case queue.EventCompleted:
		return run.StatusPassed, true
	case queue.EventFailed:
		if ev.RetryExhausted {
			return run.StatusError, true
		}
		return run.StatusFailed, true
	case queue.EventActive:
		return run.StatusRunning, true
	case queue.EventWaiting, queue.EventAdded:
		return run.StatusQueued, true
	default:
		return "", false
	}
}

// subscriberQueueSize bounds a subscriber's buffered events before the hub
// drops the oldest and emits a synthetic "dropped" marker (§4.7).
const subscriberQueueSize = 256

type subscriber struct {
	ch     chan NormalizedQueueEvent
	dropCh chan struct{}
}

// Hub subscribes to the queue substrate's pub/sub channel and fans out
// normalized events to any number of registered subscribers.
type Hub struct {
	backend queue.Backend
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// NewHub builds a Hub bound to backend's lifecycle event stream.
func NewHub(backend queue.Backend, logger *slog.Logger) *Hub {
	return &Hub{backend: backend, logger: logger, subs: make(map[int]*subscriber)}
}

// Run subscribes to the queue substrate and dispatches normalized events to
// every registered subscriber until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	return h.backend.Subscribe(ctx, func(ev queue.LifecycleEvent) {
		status, ok := deriveStatus(ev)
		if !ok {
			return
		}
		h.dispatch(NormalizedQueueEvent{
			RunID:     ev.RunID,
			Status:    status,
			Attempt:   ev.Attempt,
			Reason:    ev.Reason,
			Timestamp: ev.At,
		})
	})
}

// Subscribe registers a buffered channel for normalized events and returns
// it with an unsubscribe function. Delivery is best-effort: when a slow
// subscriber's buffer is full, its oldest buffered event is dropped and the
// incoming event is replaced by a synthetic dropped marker, rather than
// blocking the hub.
func (h *Hub) Subscribe() (<-chan NormalizedQueueEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	sub := &subscriber{ch: make(chan NormalizedQueueEvent, subscriberQueueSize)}
	h.subs[id] = sub

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			close(s.ch)
			delete(h.subs, id)
		}
	}
	return sub.ch, unsubscribe
}

func (h *Hub) dispatch(ev NormalizedQueueEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
			telemetry.EventHubDispatchedTotal.Inc()
		default:
			// Buffer full: drop the oldest entry and leave a synthetic marker
			// in its place so the subscriber knows it missed an update,
			// rather than silently discarding state (§4.7).
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- NormalizedQueueEvent{Dropped: true, Timestamp: ev.Timestamp}:
			default:
			}
			telemetry.EventHubDroppedTotal.Inc()
			h.logger.Warn("eventhub: subscriber buffer full, dropped oldest event", "run_id", ev.RunID)
		}
	}
}
