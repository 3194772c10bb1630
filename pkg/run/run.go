// Package run implements the State Store Client (C1) for the runs entity:
// the execution record at the center of the data flow in §2.
package run

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a run's lifecycle state (§3, §4.5 state machine).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s is one of the terminal states in §4.5.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusError, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Trigger records what caused the run to be created.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerAPI       Trigger = "api"
	TriggerRetry     Trigger = "retry"
)

// Metadata is the run's open-shape JSON payload (§9: readers must treat
// unknown fields as opaque and validate only the known ones). Extra holds
// whatever fields a caller sent beyond the known ones, keyed by field name,
// so a round trip through CreateRun/GetRun never drops caller-supplied data.
type Metadata struct {
	Source   string                     `json:"source,omitempty"`
	TestID   *uuid.UUID                 `json:"test_id,omitempty"`
	TestType string                     `json:"test_type,omitempty"`
	Location string                     `json:"location,omitempty"`
	Extra    map[string]json.RawMessage `json:"-"`
}

// metadataKnownFields names the struct tags handled explicitly by
// Metadata's (Un)MarshalJSON, so unknown fields can be routed to Extra
// instead of being dropped.
var metadataKnownFields = map[string]bool{
	"source": true, "test_id": true, "test_type": true, "location": true,
}

// metadataAlias avoids infinite recursion through Metadata's own
// MarshalJSON/UnmarshalJSON when (de)serializing the known fields.
type metadataAlias struct {
	Source   string     `json:"source,omitempty"`
	TestID   *uuid.UUID `json:"test_id,omitempty"`
	TestType string     `json:"test_type,omitempty"`
	Location string     `json:"location,omitempty"`
}

// MarshalJSON merges the known fields with Extra's unknown ones into a
// single flat JSON object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(metadataAlias{Source: m.Source, TestID: m.TestID, TestType: m.TestType, Location: m.Location})
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(m.Extra)+4)
	for k, v := range m.Extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields and preserves every other field
// verbatim in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var alias metadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	m.Source, m.TestID, m.TestType, m.Location = alias.Source, alias.TestID, alias.TestType, alias.Location

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	m.Extra = nil
	for k, v := range all {
		if metadataKnownFields[k] {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}
	return nil
}

// Value implements driver.Valuer so Metadata can be written directly as a
// jsonb column.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("run: marshal metadata: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner so Metadata can be read directly from a jsonb
// column.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("run: unsupported metadata scan type %T", src)
	}
	if len(b) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// Run is the execution record of §3.
type Run struct {
	ID             uuid.UUID
	JobID          *uuid.UUID
	ProjectID      uuid.UUID
	Status         Status
	Trigger        Trigger
	Location       string
	StartedAt      time.Time
	CompletedAt    *time.Time
	DurationMS     *int64
	ErrorDetails   *string
	ArtifactPaths  []string
	Metadata       Metadata
	CreatedAt      time.Time
}
