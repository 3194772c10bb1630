// Package cancel implements the Cancellation Plane (C9): a Redis-backed
// signal that a run should stop, polled by the worker that leased it
// (§4.9).
package cancel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/supercheck-io/supercheck/internal/telemetry"
)

// signalTTL bounds how long a cancellation flag survives if no worker ever
// observes it (e.g. the run was already terminal by the time Signal ran).
const signalTTL = time.Hour

func key(runID uuid.UUID) string { return "cancel:" + runID.String() }

// Plane raises and observes cancellation signals.
type Plane struct {
	rdb *redis.Client
}

// NewPlane builds a Plane.
func NewPlane(rdb *redis.Client) *Plane {
	return &Plane{rdb: rdb}
}

// Signal raises the cancellation flag for a run. The caller is responsible
// for also attempting the queued→cancelled state transition via C1; for a
// running job, only the flag is set (§4.9).
func (p *Plane) Signal(ctx context.Context, runID uuid.UUID) error {
	if err := p.rdb.Set(ctx, key(runID), "1", signalTTL).Err(); err != nil {
		return fmt.Errorf("cancel: signal: %w", err)
	}
	telemetry.CancellationSignalsTotal.Inc()
	return nil
}

// IsCancelled reports whether a cancellation flag is set for runID.
func (p *Plane) IsCancelled(ctx context.Context, runID uuid.UUID) (bool, error) {
	n, err := p.rdb.Exists(ctx, key(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("cancel: is cancelled: %w", err)
	}
	return n > 0, nil
}

// Clear removes a run's cancellation flag once it has reached a terminal
// status and the worker has observed it.
func (p *Plane) Clear(ctx context.Context, runID uuid.UUID) error {
	if err := p.rdb.Del(ctx, key(runID)).Err(); err != nil {
		return fmt.Errorf("cancel: clear: %w", err)
	}
	return nil
}

// Poll starts a goroutine that calls onCancel once when IsCancelled first
// returns true, checking every interval until ctx is cancelled or onCancel
// has fired. The interval is used as given; no jitter is added.
func (p *Plane) Poll(ctx context.Context, runID uuid.UUID, interval time.Duration, onCancel func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := p.IsCancelled(ctx, runID)
			if err != nil {
				continue
			}
			if cancelled {
				onCancel()
				return
			}
		}
	}
}
