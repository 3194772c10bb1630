// Package job models scheduled bundles of test definitions (§3: Job) and
// drives their cron-triggered submission into the run pipeline.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Job is a scheduled bundle of test references (§3).
type Job struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ProjectID    uuid.UUID
	Name         string
	Schedule     string // standard 5-field cron expression
	Location     string
	TestIDs      []uuid.UUID
	Enabled      bool
	LastRunAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
