// Package region implements the Region Router (C4): location
// normalization and queue-name routing (§4.4).
package region

import (
	"log/slog"

	"github.com/supercheck-io/supercheck/pkg/queue"
)

// Recognized locations (§4.4). Global is a synonym for "any region; router
// chooses lowest-load."
const (
	USEast      = "us-east"
	EUCentral   = "eu-central"
	AsiaPacific = "asia-pacific"
	Global      = "global"
)

var recognized = map[string]bool{
	USEast:      true,
	EUCentral:   true,
	AsiaPacific: true,
	Global:      true,
}

// Normalize maps an arbitrary boundary-supplied location to a recognized
// one, falling back to Global with a warning for anything unrecognized
// (§4.4).
func Normalize(location string, logger *slog.Logger) string {
	if recognized[location] {
		return location
	}
	if location != "" {
		logger.Warn("unrecognized location, normalizing to global", "location", location)
	}
	return Global
}

// QueueFor resolves the execution queue name for a runner kind pinned to a
// normalized location (§4.4 routing rules).
func QueueFor(kind queue.Kind, location string) string {
	return queue.NameFor(kind, location)
}

// Router decides whether a worker should accept a leased job for its pinned
// region (§4.4: ENABLE_LOCATION_FILTERING).
type Router struct {
	filteringEnabled bool
	workerLocation   string
}

// NewRouter builds a Router. When filteringEnabled is false (MVP mode), a
// single worker pool consumes from all region-scoped queues and Accept
// always returns true.
func NewRouter(filteringEnabled bool, workerLocation string) *Router {
	return &Router{filteringEnabled: filteringEnabled, workerLocation: workerLocation}
}

// Accept reports whether this worker should process a job queued for
// location. When filtering is disabled every location is accepted; when
// enabled, only the worker's pinned location is accepted, unless the worker
// itself is pinned to Global, in which case every location is accepted.
func (r *Router) Accept(location string) bool {
	if !r.filteringEnabled {
		return true
	}
	return location == r.workerLocation || r.workerLocation == Global
}

// QueueNames returns every execution queue this worker should lease from
// for the given runner kind: just its pinned location when filtering is
// enabled, or all recognized locations otherwise (§4.4).
func (r *Router) QueueNames(kind queue.Kind) []string {
	if r.filteringEnabled {
		return []string{QueueFor(kind, r.workerLocation)}
	}
	names := make([]string, 0, len(recognized))
	for loc := range recognized {
		names = append(names, QueueFor(kind, loc))
	}
	return names
}
