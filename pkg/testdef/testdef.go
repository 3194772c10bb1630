// Package testdef models the Test entity (§3): a tenant-owned, version-
// controlled definition of a synthetic check or load-test script that runs
// produce evidence against.
package testdef

import (
	"time"

	"github.com/google/uuid"
)

// Type is the kind of check a Test definition runs (§3, §4.4 queue naming).
type Type string

const (
	TypeBrowser     Type = "browser"
	TypeAPI         Type = "api"
	TypePerformance Type = "performance"
	TypeSynthetic   Type = "synthetic"
)

// RunnerKind maps a Type to the queue family it is dispatched to (§4.4).
func (t Type) RunnerKind() string {
	switch t {
	case TypePerformance:
		return "k6"
	case TypeBrowser:
		return "playwright"
	default:
		return "monitor"
	}
}

// Test is a tenant-scoped, version-controlled run definition.
type Test struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Type      Type
	Script    string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}
