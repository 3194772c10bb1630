// Package admission implements the Admission Controller (C3): the ordered,
// caller-atomic submission pipeline that turns a request into a queued run
// (§4.3).
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/supercheck-io/supercheck/internal/apperr"
	"github.com/supercheck-io/supercheck/internal/telemetry"
	"github.com/supercheck-io/supercheck/pkg/job"
	"github.com/supercheck-io/supercheck/pkg/org"
	"github.com/supercheck-io/supercheck/pkg/queue"
	"github.com/supercheck-io/supercheck/pkg/region"
	"github.com/supercheck-io/supercheck/pkg/run"
	"github.com/supercheck-io/supercheck/pkg/testdef"
	"github.com/supercheck-io/supercheck/pkg/usage"
)

// CloudMode gates the subscription-status check (§4.3 step 1): self-hosted
// deployments skip it entirely.
type CloudMode bool

// SubmitRequest describes a single run submission.
type SubmitRequest struct {
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	JobID     *uuid.UUID
	Test      testdef.Test
	Trigger   run.Trigger
	Location  string
}

// SubmitResult is returned to the caller on successful admission (§4.3).
type SubmitResult struct {
	RunID         uuid.UUID
	Status        run.Status
	QueuePosition int
}

// Controller implements the ordered admission pipeline (§4.3). It
// implements job.Submitter so the cron trigger loop (pkg/job) can drive it
// directly.
type Controller struct {
	orgStore  *org.Store
	runStore  *run.Store
	testStore *testdef.Store
	queue     queue.Backend
	ledger    *usage.Ledger
	cloudMode bool
	logger    *slog.Logger
}

// NewController builds a Controller.
func NewController(orgStore *org.Store, runStore *run.Store, testStore *testdef.Store, backend queue.Backend, ledger *usage.Ledger, cloudMode bool, logger *slog.Logger) *Controller {
	return &Controller{orgStore: orgStore, runStore: runStore, testStore: testStore, queue: backend, ledger: ledger, cloudMode: cloudMode, logger: logger}
}

// Submit runs the ordered admission steps of §4.3 and either returns a
// queued run or a classified apperr.Error the HTTP layer maps to a status
// code.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	o, err := c.orgStore.GetOrganization(ctx, req.TenantID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("admission: resolve organization: %w", err)
	}

	// Step 1: subscription check (cloud mode only).
	if c.cloudMode && !o.IsActive() {
		telemetry.RunsRejectedTotal.WithLabelValues("subscription").Inc()
		return SubmitResult{}, apperr.New(apperr.KindSubscription, "tenant subscription is not active")
	}

	// Step 2: resolve plan limits.
	limits, err := c.orgStore.GetPlanLimits(ctx, o.PlanID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("admission: resolve plan limits: %w", err)
	}

	// Step 3: capacity check.
	running, err := c.runStore.CountByProjectAndStatus(ctx, req.ProjectID, run.StatusRunning)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("admission: count running: %w", err)
	}
	queued, err := c.runStore.CountByProjectAndStatus(ctx, req.ProjectID, run.StatusQueued)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("admission: count queued: %w", err)
	}
	if running >= limits.RunningCapacity && queued >= limits.QueuedCapacity {
		telemetry.RunsRejectedTotal.WithLabelValues("capacity").Inc()
		return SubmitResult{}, apperr.New(apperr.KindCapacity, "project has no free running or queued slots")
	}

	// Step 4 (validation moved ahead of credit consumption): a request that
	// fails test-payload validation must never have consumed a credit, so
	// validate before the metered step rather than rolling credits back
	// afterward.
	if err := req.Test.Validate(); err != nil {
		telemetry.RunsRejectedTotal.WithLabelValues("validation").Inc()
		return SubmitResult{}, err
	}

	// Step 5: credit-metered operations. Only synthetic (AI-assisted)
	// generation consumes credits; ordinary test/load-test submissions are
	// not metered here. Consumption happens after validation but before the
	// run row exists, so a failure past this point (enqueue) must refund.
	const creditKind = "synthetic_generation"
	creditConsumed := false
	if req.Test.Type == testdef.TypeSynthetic {
		ok, err := c.ledger.ConsumeCredit(ctx, req.TenantID, creditKind, 1, limits.IncludedMinutes)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("admission: consume credit: %w", err)
		}
		if !ok {
			telemetry.RunsRejectedTotal.WithLabelValues("credit_denied").Inc()
			return SubmitResult{}, apperr.New(apperr.KindCreditDenied, "tenant has no remaining credits for this operation")
		}
		creditConsumed = true
	}
	refundCredit := func() {
		if !creditConsumed {
			return
		}
		if err := c.ledger.Refund(ctx, req.TenantID, creditKind, 1); err != nil {
			c.logger.Error("admission: refund credit after downstream failure", "tenant_id", req.TenantID, "error", err)
		}
	}

	location := region.Normalize(req.Location, c.logger)
	queueName := region.QueueFor(queue.Kind(req.Test.Type.RunnerKind()), location)

	meta := run.Metadata{
		Source:   string(req.Trigger),
		TestID:   &req.Test.ID,
		TestType: string(req.Test.Type),
		Location: location,
	}

	// Step 6: create the run row and enqueue as a single unit of work; if
	// either fails the consumed credit is refunded and, once a row exists,
	// it is marked error rather than left dangling.
	runID, err := c.runStore.CreateRun(ctx, req.ProjectID, req.JobID, req.Trigger, location, meta)
	if err != nil {
		refundCredit()
		return SubmitResult{}, fmt.Errorf("admission: create run: %w", err)
	}

	payload, err := json.Marshal(map[string]any{"test_id": req.Test.ID, "project_id": req.ProjectID})
	if err != nil {
		refundCredit()
		return SubmitResult{}, fmt.Errorf("admission: marshal job payload: %w", err)
	}

	qJob := queue.Job{ID: runID.String(), RunID: runID, Payload: payload, Attempt: 1, MaxAttempts: 3}
	if err := c.queue.Enqueue(ctx, queueName, qJob); err != nil {
		refundCredit()
		errMsg := err.Error()
		if tErr := c.runStore.TransitionRun(ctx, runID, run.StatusQueued, run.StatusError, nil, &errMsg); tErr != nil {
			c.logger.Error("admission: failed to mark run error after enqueue failure", "run_id", runID, "error", tErr)
		}
		return SubmitResult{}, fmt.Errorf("admission: enqueue: %w", err)
	}

	telemetry.RunsSubmittedTotal.WithLabelValues(string(req.Trigger)).Inc()

	r, err := c.runStore.GetRun(ctx, runID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("admission: reload run: %w", err)
	}
	position, err := c.runStore.CountEarlierQueued(ctx, req.ProjectID, r.CreatedAt)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("admission: count queue position: %w", err)
	}

	return SubmitResult{RunID: runID, Status: run.StatusQueued, QueuePosition: position}, nil
}

// SubmitJob implements job.Submitter: it resolves a scheduled job's test
// references and submits one run per test.
func (c *Controller) SubmitJob(ctx context.Context, j job.Job) error {
	for _, testID := range j.TestIDs {
		t, err := c.testStore.Get(ctx, j.ProjectID, testID)
		if err != nil {
			return fmt.Errorf("admission: resolve scheduled test: %w", err)
		}
		jobID := j.ID
		if _, err := c.Submit(ctx, SubmitRequest{
			TenantID:  j.TenantID,
			ProjectID: j.ProjectID,
			JobID:     &jobID,
			Test:      t,
			Trigger:   run.TriggerScheduled,
			Location:  j.Location,
		}); err != nil {
			return fmt.Errorf("admission: submit scheduled run for test %s: %w", testID, err)
		}
	}
	return nil
}
