package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/supercheck-io/supercheck/internal/apperr"
	"github.com/supercheck-io/supercheck/pkg/admission"
	"github.com/supercheck-io/supercheck/pkg/eventhub"
	"github.com/supercheck-io/supercheck/pkg/report"
	"github.com/supercheck-io/supercheck/pkg/run"
	"github.com/supercheck-io/supercheck/pkg/tenant"
	"github.com/supercheck-io/supercheck/pkg/testdef"
)

// handlers implements the execution-backbone's HTTP surface: run
// submission, cancellation, and the three SSE endpoint families (§4.3,
// §4.8, §4.9).
type handlers struct {
	deps   Deps
	logger *slog.Logger
}

// submitRunRequest is the request body for POST /api/v1/runs.
type submitRunRequest struct {
	TestID   string `json:"test_id" validate:"required,uuid"`
	Trigger  string `json:"trigger" validate:"omitempty,oneof=manual api retry"`
	Location string `json:"location"`
}

func (h *handlers) submitRun(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusBadRequest, "bad_request", "missing X-Project-ID header")
		return
	}

	var req submitRunRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	testID, err := uuid.Parse(req.TestID)
	if err != nil {
		RespondError(w, http.StatusUnprocessableEntity, "validation_error", "invalid test_id")
		return
	}

	test, err := h.deps.TestStore.Get(r.Context(), scope.ProjectID, testID)
	if errors.Is(err, testdef.ErrNotFound) {
		RespondError(w, http.StatusNotFound, "not_found", "test not found")
		return
	}
	if err != nil {
		h.logger.Error("resolving test for submission", "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "resolving test")
		return
	}

	trigger := run.TriggerAPI
	if req.Trigger != "" {
		trigger = run.Trigger(req.Trigger)
	}

	result, err := h.deps.Admission.Submit(r.Context(), admission.SubmitRequest{
		TenantID:  scope.TenantID,
		ProjectID: scope.ProjectID,
		Test:      test,
		Trigger:   trigger,
		Location:  req.Location,
	})
	if err != nil {
		RespondAppError(w, err)
		return
	}

	Respond(w, http.StatusAccepted, map[string]any{
		"run_id":         result.RunID,
		"status":         result.Status,
		"queue_position": result.QueuePosition,
	})
}

func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusBadRequest, "bad_request", "missing X-Project-ID header")
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "runId"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid run id")
		return
	}

	rec, err := h.deps.RunStore.GetRun(r.Context(), runID)
	if errors.Is(err, run.ErrNotFound) {
		RespondError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	if err != nil {
		h.logger.Error("resolving run", "run_id", runID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "resolving run")
		return
	}
	if rec.ProjectID != scope.ProjectID {
		RespondError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}

	Respond(w, http.StatusOK, rec)
}

// listRuns serves a project's run history, newest first.
func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusBadRequest, "bad_request", "missing X-Project-ID header")
		return
	}

	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, err := h.deps.RunStore.ListByProject(r.Context(), scope.ProjectID, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing runs", "project_id", scope.ProjectID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "listing runs")
		return
	}
	total, err := h.deps.RunStore.CountByProject(r.Context(), scope.ProjectID)
	if err != nil {
		h.logger.Error("counting runs", "project_id", scope.ProjectID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "listing runs")
		return
	}

	Respond(w, http.StatusOK, NewOffsetPage(items, params, total))
}

// cancelRun raises the cancellation signal (C9) and, for a still-queued run,
// attempts the queued→cancelled transition directly; a running job observes
// the signal itself (§4.9).
func (h *handlers) cancelRun(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusBadRequest, "bad_request", "missing X-Project-ID header")
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "runId"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid run id")
		return
	}

	rec, err := h.deps.RunStore.GetRun(r.Context(), runID)
	if errors.Is(err, run.ErrNotFound) {
		RespondError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	if err != nil || rec.ProjectID != scope.ProjectID {
		RespondError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}

	if err := h.deps.CancelPlane.Signal(r.Context(), runID); err != nil {
		h.logger.Error("signaling cancellation", "run_id", runID, "error", err)
		RespondError(w, http.StatusInternalServerError, "internal_error", "signaling cancellation")
		return
	}
	err = h.deps.RunStore.TransitionRun(r.Context(), runID, run.StatusQueued, run.StatusCancelled, nil, nil)
	if err != nil && apperr.KindOf(err) != apperr.KindStateConflict {
		h.logger.Error("cancelling queued run", "run_id", runID, "error", err)
	}

	Respond(w, http.StatusOK, map[string]string{"status": "cancellation_requested"})
}

func (h *handlers) streamRun(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusBadRequest, "bad_request", "missing X-Project-ID header")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "runId"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid run id")
		return
	}

	rec, err := h.deps.RunStore.GetRun(r.Context(), runID)
	if err != nil || rec.ProjectID != scope.ProjectID {
		RespondError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}

	h.deps.SSEGateway.StreamRun(w, r, runID, func(ctx context.Context) (any, error) {
		return h.deps.RunStore.GetRun(ctx, runID)
	})
}

// streamTest applies the strict pass/fail agreement rule (§9(a) decision):
// a passed or failed event for this test's runs is compared with the test's
// latest reports row and forwarded as failed when the two disagree. Other
// events, and events whose report lookup fails, are forwarded unchanged.
func (h *handlers) streamTest(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusBadRequest, "bad_request", "missing X-Project-ID header")
		return
	}
	testID, err := uuid.Parse(chi.URLParam(r, "testId"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid test id")
		return
	}
	if _, err := h.deps.TestStore.Get(r.Context(), scope.ProjectID, testID); err != nil {
		RespondError(w, http.StatusNotFound, "not_found", "test not found")
		return
	}

	runCache := newRunLookupCache(h.deps.RunStore.GetRun)
	belongsToTest := func(runID uuid.UUID) bool {
		rec, err := runCache.Get(r.Context(), runID)
		if err != nil {
			return false
		}
		return rec.Metadata.TestID != nil && *rec.Metadata.TestID == testID
	}

	applyStrictRule := func(ev eventhub.NormalizedQueueEvent) eventhub.NormalizedQueueEvent {
		if ev.Status != run.StatusPassed && ev.Status != run.StatusFailed {
			return ev
		}
		rep, err := h.deps.ReportStore.GetLatest(r.Context(), report.EntityTest, testID)
		if err != nil {
			return ev
		}
		agreed := (ev.Status == run.StatusPassed && rep.Status == report.StatusPassed) ||
			(ev.Status == run.StatusFailed && rep.Status == report.StatusFailed)
		if !agreed {
			ev.Reason = "queue status and report status disagree; surfacing failed (fail-safe)"
			ev.Status = run.StatusFailed
		}
		return ev
	}

	h.deps.SSEGateway.StreamTest(w, r, belongsToTest, applyStrictRule, func(ctx context.Context) (any, error) {
		return h.deps.ReportStore.GetLatest(ctx, report.EntityTest, testID)
	})
}

func (h *handlers) streamJobs(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenant.FromContext(r.Context())
	if !ok {
		RespondError(w, http.StatusBadRequest, "bad_request", "missing X-Project-ID header")
		return
	}

	runCache := newRunLookupCache(h.deps.RunStore.GetRun)
	belongsToTenant := func(runID uuid.UUID) bool {
		rec, err := runCache.Get(r.Context(), runID)
		if err != nil {
			return false
		}
		return rec.ProjectID == scope.ProjectID && rec.JobID != nil
	}

	h.deps.SSEGateway.StreamJobs(w, r, belongsToTenant, nil)
}
