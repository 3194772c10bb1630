package org

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/supercheck-io/supercheck/pkg/tenant"
)

// ErrNotFound is returned when an organization, plan, or project row is missing.
var ErrNotFound = errors.New("org: not found")

// DBTX is the subset of pgx used by this store, satisfied by both
// *pgxpool.Pool and pgx.Tx so callers can run it inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides typed access to organizations, plan limits, and projects.
type Store struct {
	db DBTX
}

// NewStore creates a Store bound to db.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// GetOrganization resolves the tenant row used by admission's subscription check.
func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error) {
	var o Organization
	err := s.db.QueryRow(ctx,
		`SELECT id, plan_id, subscription_status FROM organizations WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.PlanID, &o.SubscriptionStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return Organization{}, ErrNotFound
	}
	if err != nil {
		return Organization{}, fmt.Errorf("org: get organization: %w", err)
	}
	return o, nil
}

// GetPlanLimits resolves the plan limits for a tenant's current plan.
// A nil plan_id (unpaid tenant) resolves to the zero-capacity free tier.
func (s *Store) GetPlanLimits(ctx context.Context, planID *uuid.UUID) (PlanLimits, error) {
	if planID == nil {
		return PlanLimits{}, nil
	}
	var p PlanLimits
	err := s.db.QueryRow(ctx,
		`SELECT plan_id, running_capacity, queued_capacity, max_monitors, included_minutes, data_retention_days
		 FROM plan_limits WHERE plan_id = $1`,
		*planID,
	).Scan(&p.PlanID, &p.RunningCapacity, &p.QueuedCapacity, &p.MaxMonitors, &p.IncludedMinutes, &p.DataRetentionDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlanLimits{}, ErrNotFound
	}
	if err != nil {
		return PlanLimits{}, fmt.Errorf("org: get plan limits: %w", err)
	}
	return p, nil
}

// GetProject resolves a project row, scoped defense-in-depth to tenantID.
func (s *Store) GetProject(ctx context.Context, tenantID, projectID uuid.UUID) (Project, error) {
	var p Project
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, slug FROM projects WHERE id = $1 AND tenant_id = $2`,
		projectID, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.Slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("org: get project: %w", err)
	}
	return p, nil
}

// TenantIDForProject implements tenant.ProjectLookup for the tenant scoping
// middleware: it resolves a project's owning tenant without requiring the
// caller to already know it.
func (s *Store) TenantIDForProject(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	var tenantID uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT tenant_id FROM projects WHERE id = $1`, projectID).Scan(&tenantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, tenant.ErrProjectNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("org: resolve project tenant: %w", err)
	}
	return tenantID, nil
}
