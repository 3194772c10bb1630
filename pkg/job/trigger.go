package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Submitter is the admission controller's entry point (C3), narrowed to
// what the cron trigger loop needs.
type Submitter interface {
	SubmitJob(ctx context.Context, j Job) error
}

// Trigger drives scheduled job submission off a cron schedule, refreshing
// its entries from the store on an interval so jobs created, edited, or
// disabled after startup take effect without a restart.
type Trigger struct {
	store     *Store
	submitter Submitter
	logger    *slog.Logger
	cron      *cron.Cron
	entries   map[uuid.UUID]cron.EntryID
}

// NewTrigger builds a Trigger. Standard 5-field cron expressions are used
// throughout, matching §3's Job.schedule field.
func NewTrigger(store *Store, submitter Submitter, logger *slog.Logger) *Trigger {
	return &Trigger{
		store:     store,
		submitter: submitter,
		logger:    logger,
		cron:      cron.New(),
		entries:   make(map[uuid.UUID]cron.EntryID),
	}
}

// Run refreshes cron entries from the store every refreshInterval until ctx
// is cancelled. It starts the underlying cron scheduler and blocks until
// shutdown.
func (t *Trigger) Run(ctx context.Context, refreshInterval time.Duration) {
	t.logger.Info("job trigger loop started", "refresh_interval", refreshInterval)

	if err := t.refresh(ctx); err != nil {
		t.logger.Error("initial job trigger refresh", "error", err)
	}
	t.cron.Start()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("job trigger loop stopped")
			<-t.cron.Stop().Done()
			return
		case <-ticker.C:
			if err := t.refresh(ctx); err != nil {
				t.logger.Error("job trigger refresh", "error", err)
			}
		}
	}
}

func (t *Trigger) refresh(ctx context.Context) error {
	jobs, err := t.store.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("job: refresh: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(jobs))
	for _, j := range jobs {
		seen[j.ID] = true
		if entryID, ok := t.entries[j.ID]; ok {
			t.cron.Remove(entryID)
		}

		jj := j
		entryID, err := t.cron.AddFunc(jj.Schedule, func() { t.fire(jj) })
		if err != nil {
			t.logger.Error("invalid job schedule", "job_id", jj.ID, "schedule", jj.Schedule, "error", err)
			continue
		}
		t.entries[jj.ID] = entryID
	}

	for id, entryID := range t.entries {
		if !seen[id] {
			t.cron.Remove(entryID)
			delete(t.entries, id)
		}
	}
	return nil
}

func (t *Trigger) fire(j Job) {
	ctx := context.Background()
	if err := t.submitter.SubmitJob(ctx, j); err != nil {
		t.logger.Error("scheduled job submission failed", "job_id", j.ID, "error", err)
		return
	}
	if err := t.store.MarkRun(ctx, j.ID); err != nil {
		t.logger.Error("marking job run", "job_id", j.ID, "error", err)
	}
}
