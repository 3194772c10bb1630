// Package tenant carries the per-request tenant/project scope used by every
// runtime-scoped entity (§3: "All runtime-scoped entities carry project_id
// and tenant_id; both MUST match on every access").
package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Scope is the resolved tenant/project pair for the current request. Store
// methods take the bare IDs rather than a Scope, and their queries do not
// filter on both columns: test lookups filter by project_id, run lookups by
// id only (the HTTP handlers then compare the run's ProjectID with the
// scope), and only org.Store.GetProject matches tenant_id and project id
// together.
type Scope struct {
	TenantID  uuid.UUID
	ProjectID uuid.UUID
}

type contextKey string

const scopeKey contextKey = "tenant_scope"

// NewContext stores the scope in the context.
func NewContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// FromContext extracts the scope from the context. ok is false if no scope
// has been resolved (e.g. for tenant-wide routes that don't bind a project).
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey).(Scope)
	return s, ok
}
