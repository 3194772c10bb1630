// Package sse implements the SSE Gateway (C8): three Server-Sent Events
// endpoint families over runs, tests, and jobs, with connect-time
// authorization, a snapshot-then-stream handshake, heartbeats, and a
// per-subscriber bounded queue with drop-oldest semantics (§4.8).
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/supercheck-io/supercheck/internal/telemetry"
	"github.com/supercheck-io/supercheck/pkg/eventhub"
)

const heartbeatInterval = 30 * time.Second

// write sends one SSE event frame and flushes immediately.
func write(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// ArtifactResolver fetches fresh, presigned artifact URLs for a run from
// the artifact sink (C6). Returning a nil/empty slice is not an error —
// not every run produces artifacts.
type ArtifactResolver func(ctx context.Context, runID uuid.UUID) ([]string, error)

// Gateway serves the SSE endpoint families backed by the Event Hub (C7).
type Gateway struct {
	hub       *eventhub.Hub
	artifacts ArtifactResolver
	logger    *slog.Logger
}

// NewGateway builds a Gateway. artifacts may be nil, in which case terminal
// events are forwarded without artifact URLs.
func NewGateway(hub *eventhub.Hub, artifacts ArtifactResolver, logger *slog.Logger) *Gateway {
	return &Gateway{hub: hub, artifacts: artifacts, logger: logger}
}

// StreamRun serves `/events/runs/{runId}`: connect-time authorization is the
// caller's responsibility (via tenant/auth middleware mounted ahead of this
// handler); this only filters the hub's fan-out to the requested run.
func (g *Gateway) StreamRun(w http.ResponseWriter, r *http.Request, runID uuid.UUID, snapshot func(context.Context) (any, error)) {
	g.stream(w, r, "runs", func(ev eventhub.NormalizedQueueEvent) bool { return ev.RunID == runID }, snapshot)
}

// StreamTest serves `/events/tests/{testId}`. filter narrows the hub's
// fan-out to runs belonging to the test; applyStrictRule lets the caller
// apply the test-scoped strict pass/fail agreement rule (§9(a) decision:
// the strict rule — requiring both queue completion AND the reports row to
// say `passed` — applies only here, not to the run- or job-scoped
// endpoints).
func (g *Gateway) StreamTest(w http.ResponseWriter, r *http.Request, belongsToTest func(runID uuid.UUID) bool, applyStrictRule func(eventhub.NormalizedQueueEvent) eventhub.NormalizedQueueEvent, snapshot func(context.Context) (any, error)) {
	g.streamTransformed("tests", belongsToTest, applyStrictRule, w, r, snapshot)
}

// StreamJobs serves `/events/jobs`: every job-linked run transition,
// unfiltered beyond the caller's tenant scoping.
func (g *Gateway) StreamJobs(w http.ResponseWriter, r *http.Request, belongsToTenant func(runID uuid.UUID) bool, snapshot func(context.Context) (any, error)) {
	g.stream(w, r, "jobs", belongsToTenant, snapshot)
}

func (g *Gateway) stream(w http.ResponseWriter, r *http.Request, endpoint string, accept func(uuid.UUID) bool, snapshot func(context.Context) (any, error)) {
	g.streamTransformed(endpoint, accept, func(ev eventhub.NormalizedQueueEvent) eventhub.NormalizedQueueEvent { return ev }, w, r, snapshot)
}

func (g *Gateway) streamTransformed(endpoint string, accept func(uuid.UUID) bool, transform func(eventhub.NormalizedQueueEvent) eventhub.NormalizedQueueEvent, w http.ResponseWriter, r *http.Request, snapshot func(context.Context) (any, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeComment(w, flusher, "connected"); err != nil {
		return
	}

	telemetry.SSESubscribersGauge.WithLabelValues(endpoint).Inc()
	defer telemetry.SSESubscribersGauge.WithLabelValues(endpoint).Dec()

	ctx := r.Context()
	if snapshot != nil {
		if snap, err := snapshot(ctx); err == nil && snap != nil {
			if err := write(w, flusher, "snapshot", snap); err != nil {
				return
			}
		} else if err != nil {
			g.logger.Warn("sse: snapshot failed", "endpoint", endpoint, "error", err)
		}
	}

	events, unsubscribe := g.hub.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := writeComment(w, flusher, "ping"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Dropped {
				telemetry.SSEDroppedEventsTotal.WithLabelValues(endpoint).Inc()
				if err := write(w, flusher, "dropped", map[string]any{"at": ev.Timestamp}); err != nil {
					return
				}
				continue
			}
			if !accept(ev.RunID) {
				continue
			}
			out := transform(ev)
			if g.artifacts != nil && out.Status.Terminal() {
				urls, err := g.artifacts(ctx, out.RunID)
				if err != nil {
					g.logger.Warn("sse: resolve artifact urls", "run_id", out.RunID, "error", err)
				} else {
					out.ArtifactURLs = urls
				}
			}
			if err := write(w, flusher, "run_status", out); err != nil {
				return
			}
		}
	}
}
