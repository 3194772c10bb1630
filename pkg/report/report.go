// Package report models the Report entity (§3): the per-entity record read
// by the SSE gateway and the test-scoped strict pass/fail agreement rule
// on terminal events.
package report

import (
	"time"

	"github.com/google/uuid"
)

// EntityType names what a Report is attached to.
type EntityType string

const (
	EntityTest EntityType = "test"
	EntityRun  EntityType = "run"
)

// Status mirrors the owning run's terminal status at the time the report
// was written.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Report is read by the SSE gateway (C8) on terminal run events, and by the
// test-scoped endpoint's strict pass/fail agreement check.
type Report struct {
	ID         uuid.UUID
	EntityType EntityType
	EntityID   uuid.UUID
	ReportPath string
	S3URL      string
	Status     Status
	CreatedAt  time.Time
}
