// Package telemetry aggregates the execution backbone's Prometheus
// collectors, following the teacher's shared-registry pattern.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/supercheck-io/supercheck/internal/httpserver"
)

// Admission (C3)
var (
	RunsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "admission", Name: "submitted_total", Help: "Total run submissions by trigger."},
		[]string{"trigger"},
	)
	RunsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "admission", Name: "rejected_total", Help: "Total rejected submissions by reason."},
		[]string{"reason"},
	)
)

// Queue substrate (C2)
var (
	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "queue", Name: "enqueued_total", Help: "Jobs enqueued by queue."},
		[]string{"queue"},
	)
	QueueLeasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "queue", Name: "leased_total", Help: "Jobs leased by queue."},
		[]string{"queue"},
	)
	QueueAckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "queue", Name: "ack_total", Help: "Jobs acknowledged by queue."},
		[]string{"queue"},
	)
	QueueNackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "queue", Name: "nack_total", Help: "Jobs nacked by queue and retriability."},
		[]string{"queue", "retriable"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "supercheck", Subsystem: "queue", Name: "depth", Help: "Current queue depth."},
		[]string{"queue"},
	)
	QueueInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "supercheck", Subsystem: "queue", Name: "in_flight", Help: "Jobs currently leased and unacknowledged."},
		[]string{"queue"},
	)
	QueueStalledReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "queue", Name: "stalled_reclaimed_total", Help: "Jobs reclaimed after a visibility timeout."},
		[]string{"queue"},
	)
)

// Worker pool (C5)
var (
	WorkerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "supercheck", Subsystem: "worker", Name: "job_duration_seconds",
			Help:    "Wall-clock duration of a leased job, from spawn to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"runner_type", "outcome"},
	)
	WorkerLaunchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "worker", Name: "launch_retries_total", Help: "Browser runner launch retries."},
		[]string{"runner_type"},
	)
)

// Artifact sink (C6)
var (
	ArtifactUploadBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "artifact", Name: "upload_bytes_total", Help: "Bytes uploaded to object storage by entity type."},
		[]string{"entity_type"},
	)
	ArtifactUploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "supercheck", Subsystem: "artifact", Name: "upload_duration_seconds", Help: "Artifact upload duration.", Buckets: prometheus.DefBuckets},
		[]string{"entity_type"},
	)
)

// Event hub (C7) / SSE gateway (C8)
var (
	EventHubDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "eventhub", Name: "dispatched_total", Help: "Lifecycle events dispatched to subscribers."},
	)
	EventHubDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "eventhub", Name: "dropped_total", Help: "Lifecycle events dropped because a subscriber's buffer was full."},
	)
	SSESubscribersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "supercheck", Subsystem: "sse", Name: "subscribers", Help: "Active SSE subscribers by endpoint family."},
		[]string{"endpoint"},
	)
	SSEDroppedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "sse", Name: "dropped_events_total", Help: "Events dropped from a subscriber's bounded queue."},
		[]string{"endpoint"},
	)
)

// Cancellation plane (C9)
var CancellationSignalsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "cancel", Name: "signals_total", Help: "Cancellation signals raised."},
)

// Usage ledger (C10)
var (
	UsageCreditsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "usage", Name: "credits_consumed_total", Help: "Credit units consumed by kind."},
		[]string{"kind"},
	)
	UsageCreditsDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "supercheck", Subsystem: "usage", Name: "credits_denied_total", Help: "Credit consume attempts denied by kind."},
		[]string{"kind"},
	)
)

// All returns every execution-backbone collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		RunsSubmittedTotal, RunsRejectedTotal,
		QueueEnqueuedTotal, QueueLeasedTotal, QueueAckTotal, QueueNackTotal, QueueDepth, QueueInFlight, QueueStalledReclaimedTotal,
		WorkerJobDuration, WorkerLaunchRetriesTotal,
		ArtifactUploadBytesTotal, ArtifactUploadDuration,
		EventHubDispatchedTotal, EventHubDroppedTotal, SSESubscribersGauge, SSEDroppedEventsTotal,
		CancellationSignalsTotal,
		UsageCreditsConsumedTotal, UsageCreditsDeniedTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTP request metric, and every execution-backbone
// collector.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpserver.RequestDuration,
	)
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
