package worker

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/supercheck-io/supercheck/internal/telemetry"
	"github.com/supercheck-io/supercheck/pkg/artifact"
	"github.com/supercheck-io/supercheck/pkg/cancel"
	"github.com/supercheck-io/supercheck/pkg/notify"
	"github.com/supercheck-io/supercheck/pkg/queue"
	"github.com/supercheck-io/supercheck/pkg/region"
	"github.com/supercheck-io/supercheck/pkg/report"
	"github.com/supercheck-io/supercheck/pkg/run"
	"github.com/supercheck-io/supercheck/pkg/testdef"
)

var tracer = telemetry.Tracer("supercheck/worker")

// TenantResolver resolves a project's owning tenant, used to build the
// artifact key scheme (§4.6).
type TenantResolver interface {
	TenantIDForProject(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
}

// PoolConfig configures a Pool's lease and execution behavior.
type PoolConfig struct {
	Timeout            time.Duration
	VisibilityTimeout  time.Duration
	LeasePollInterval  time.Duration
	CancelPollInterval time.Duration
}

// Pool is the Worker Pool (C5): it leases jobs from the queue substrate for
// every queue name its region router accepts, spawns the matching runner,
// and drives the run to a terminal status (§4.5).
type Pool struct {
	backend     queue.Backend
	runStore    *run.Store
	testStore   *testdef.Store
	reportStore *report.Store
	sink        *artifact.Sink
	cancelPlane *cancel.Plane
	router      *region.Router
	tenants     TenantResolver
	runners     map[queue.Kind]Runner
	k6          *LoadTestRunner
	notifier    *notify.Sender
	cfg         PoolConfig
	logger      *slog.Logger
}

// NewPool builds a Pool. runners must contain an entry for every queue.Kind
// this process should serve; k6Runner, if the pool serves KindK6, doubles
// as runners[queue.KindK6] and additionally gates pool-wide k6 concurrency.
// notifier may be a disabled Sender; Pool always calls Post and relies on
// Sender itself to no-op when unconfigured.
func NewPool(backend queue.Backend, runStore *run.Store, testStore *testdef.Store, reportStore *report.Store, sink *artifact.Sink, cancelPlane *cancel.Plane, router *region.Router, tenants TenantResolver, runners map[queue.Kind]Runner, k6Runner *LoadTestRunner, notifier *notify.Sender, cfg PoolConfig, logger *slog.Logger) *Pool {
	return &Pool{
		backend: backend, runStore: runStore, testStore: testStore, reportStore: reportStore,
		sink: sink, cancelPlane: cancelPlane, router: router, tenants: tenants,
		runners: runners, k6: k6Runner, notifier: notifier, cfg: cfg, logger: logger,
	}
}

// Run starts one lease loop per (runner kind, queue name) pair this pool is
// configured to serve and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	var queues []struct {
		kind queue.Kind
		name string
	}
	for kind := range p.runners {
		for _, name := range p.router.QueueNames(kind) {
			queues = append(queues, struct {
				kind queue.Kind
				name string
			}{kind, name})
		}
	}

	done := make(chan struct{}, len(queues))
	for _, q := range queues {
		go func(kind queue.Kind, name string) {
			p.leaseLoop(ctx, kind, name)
			done <- struct{}{}
		}(q.kind, q.name)
	}
	for range queues {
		<-done
	}
	return nil
}

func (p *Pool) leaseLoop(ctx context.Context, kind queue.Kind, queueName string) {
	interval := p.cfg.LeasePollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	maxInFlight := 8
	if kind == queue.KindK6 && p.k6 != nil {
		maxInFlight = cap(p.k6.sem)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, ok, err := p.backend.Lease(ctx, queueName, maxInFlight, p.cfg.VisibilityTimeout)
			if err != nil {
				p.logger.Error("worker: lease failed", "queue", queueName, "error", err)
				continue
			}
			if !ok {
				continue
			}
			go p.handleJob(ctx, kind, queueName, *job)
		}
	}
}

func (p *Pool) handleJob(ctx context.Context, kind queue.Kind, queueName string, job queue.Job) {
	ctx, span := tracer.Start(ctx, "worker.handleJob", trace.WithAttributes(
		attribute.String("run.id", job.RunID.String()),
		attribute.String("queue.kind", string(kind)),
		attribute.String("queue.name", queueName),
	))
	defer span.End()

	start := time.Now()
	runnerType := string(kind)

	r, err := p.runStore.GetRun(ctx, job.RunID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve run")
		p.logger.Error("worker: resolve run", "run_id", job.RunID, "error", err)
		_ = p.backend.Nack(ctx, job, true, "run lookup failed")
		return
	}

	if err := p.runStore.MarkRunning(ctx, job.RunID); err != nil {
		// Already cancelled or otherwise not queued: ack so the job leaves
		// the queue without retrying work that can never proceed.
		span.RecordError(err)
		p.logger.Warn("worker: run not eligible to start", "run_id", job.RunID, "error", err)
		_ = p.backend.Ack(ctx, job, queue.EventFailed)
		return
	}

	outcome, runErr := p.execute(ctx, kind, r)
	if outcome.ArtifactsDir != "" {
		defer os.RemoveAll(outcome.ArtifactsDir)
	}
	status, retriable := p.classify(runErr, outcome)

	telemetry.WorkerJobDuration.WithLabelValues(runnerType, string(status)).Observe(time.Since(start).Seconds())

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "execute")
		p.logger.Error("worker: execution failed", "run_id", job.RunID, "error", runErr)
		msg := runErr.Error()
		if tErr := p.runStore.TransitionRun(ctx, job.RunID, run.StatusRunning, status, nil, &msg); tErr != nil {
			p.logger.Error("worker: transition after execution error", "run_id", job.RunID, "error", tErr)
		}
		_ = p.backend.Nack(ctx, job, retriable, msg)
		_ = p.cancelPlane.Clear(ctx, job.RunID)
		return
	}

	durationMS := time.Since(start).Milliseconds()
	var errDetails *string
	if outcome.ErrorDetails != "" {
		errDetails = &outcome.ErrorDetails
	}

	if err := p.runStore.TransitionRun(ctx, job.RunID, run.StatusRunning, status, &durationMS, errDetails); err != nil {
		// §4.5 invariant: a run already terminal (e.g. raced by a
		// concurrent cancellation write) is left untouched; the worker
		// still acks so the job leaves the queue.
		p.logger.Warn("worker: terminal transition conflict", "run_id", job.RunID, "error", err)
	}

	if status == run.StatusPassed || status == run.StatusFailed {
		p.finalizeArtifacts(ctx, r, outcome)
	}
	if p.notifier != nil {
		r.Status = status
		p.notifier.Post(ctx, r)
	}

	outcomeEvent := queue.EventCompleted
	if status != run.StatusPassed {
		outcomeEvent = queue.EventFailed
	}
	if err := p.backend.Ack(ctx, job, outcomeEvent); err != nil {
		p.logger.Error("worker: ack failed", "run_id", job.RunID, "error", err)
	}
	_ = p.cancelPlane.Clear(ctx, job.RunID)
}

// execute resolves the test definition, selects the runner, and supervises
// the child process, acquiring the pool-wide k6 concurrency slot around
// load-test executions.
func (p *Pool) execute(ctx context.Context, kind queue.Kind, r run.Run) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "worker.execute", trace.WithAttributes(
		attribute.String("run.id", r.ID.String()),
		attribute.String("queue.kind", string(kind)),
	))
	defer span.End()

	if r.Metadata.TestID == nil {
		return Outcome{}, fmt.Errorf("worker: run %s has no associated test", r.ID)
	}
	test, err := p.testStore.Get(ctx, r.ProjectID, *r.Metadata.TestID)
	if err != nil {
		return Outcome{}, fmt.Errorf("worker: resolve test: %w", err)
	}

	runner, ok := p.runners[kind]
	if !ok {
		return Outcome{}, fmt.Errorf("worker: no runner configured for kind %q", kind)
	}

	if kind == queue.KindK6 && p.k6 != nil {
		if err := p.k6.Acquire(ctx); err != nil {
			return Outcome{}, fmt.Errorf("worker: acquire k6 slot: %w", err)
		}
		defer p.k6.Release()
	}

	cancelled := func() bool {
		ok, err := p.cancelPlane.IsCancelled(ctx, r.ID)
		return err == nil && ok
	}

	opts := RunOptions{
		Timeout:            p.cfg.Timeout,
		CancelPollInterval: p.cfg.CancelPollInterval,
	}
	var stdout bytes.Buffer
	outcome, err := Supervise(ctx, runner, test.Script, opts, cancelled, &stdout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "supervise")
	}
	return outcome, err
}

// classify maps a Supervise result to a terminal run.Status and whether the
// queue substrate should treat it as retriable (§4.5).
func (p *Pool) classify(runErr error, outcome Outcome) (run.Status, bool) {
	if runErr != nil {
		return run.StatusError, true
	}
	switch {
	case outcome.Cancelled:
		return run.StatusCancelled, false
	case outcome.TimedOut:
		return run.StatusTimedOut, false
	case outcome.Passed:
		return run.StatusPassed, false
	default:
		return run.StatusFailed, false
	}
}

// finalizeArtifacts uploads every file under outcome.ArtifactsDir, enforcing
// the per-run cumulative size ceiling, and writes the resulting report row
// (§4.6, §4.7: "on successful terminal status, upload artifacts via C6,
// write a reports row, transition the run via C1").
func (p *Pool) finalizeArtifacts(ctx context.Context, r run.Run, outcome Outcome) {
	if outcome.ArtifactsDir == "" {
		return
	}

	ctx, span := tracer.Start(ctx, "worker.finalizeArtifacts", trace.WithAttributes(
		attribute.String("run.id", r.ID.String()),
	))
	defer span.End()

	tenantID, err := p.tenants.TenantIDForProject(ctx, r.ProjectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve tenant")
		p.logger.Error("worker: resolve tenant for artifacts", "run_id", r.ID, "error", err)
		return
	}

	var uploadedBytes int64
	var lastURL string
	_ = filepath.WalkDir(outcome.ArtifactsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if uploadedBytes+info.Size() > p.sink.MaxRunBytes() {
			p.logger.Warn("worker: run artifact budget exceeded, skipping remainder", "run_id", r.ID, "path", path)
			return filepath.SkipAll
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(outcome.ArtifactsDir, path)
		key := artifact.Key(artifact.EntityRun, tenantID, r.ProjectID, r.ID, rel)
		url, err := p.sink.PutStream(ctx, artifact.EntityRun, key, f, info.Size())
		if err != nil {
			p.logger.Error("worker: upload artifact", "run_id", r.ID, "path", path, "error", err)
			return nil
		}
		uploadedBytes += info.Size()
		lastURL = url
		if err := p.runStore.AppendArtifactPath(ctx, r.ID, key); err != nil {
			p.logger.Error("worker: record artifact path", "run_id", r.ID, "error", err)
		}
		return nil
	})

	reportStatus := report.StatusPassed
	if outcome.ErrorDetails != "" || !outcome.Passed {
		reportStatus = report.StatusFailed
	}
	if _, err := p.reportStore.Create(ctx, report.Report{
		EntityType: report.EntityRun,
		EntityID:   r.ID,
		ReportPath: outcome.ArtifactsDir,
		S3URL:      lastURL,
		Status:     reportStatus,
	}); err != nil {
		p.logger.Error("worker: write report", "run_id", r.ID, "error", err)
	}

	if r.Metadata.TestID != nil {
		if _, err := p.reportStore.Create(ctx, report.Report{
			EntityType: report.EntityTest,
			EntityID:   *r.Metadata.TestID,
			ReportPath: outcome.ArtifactsDir,
			S3URL:      lastURL,
			Status:     reportStatus,
		}); err != nil {
			p.logger.Error("worker: write test report", "test_id", *r.Metadata.TestID, "error", err)
		}
	}
}
