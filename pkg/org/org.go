// Package org models tenants (organizations) and their resolved plan limits
// (§3: Tenant, Plan Limits).
package org

import "github.com/google/uuid"

// SubscriptionStatus mirrors §3's Tenant.subscription_status.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionPastDue SubscriptionStatus = "past_due"
	SubscriptionNone    SubscriptionStatus = "none"
)

// Organization is the billing-level tenant.
type Organization struct {
	ID                 uuid.UUID
	PlanID             *uuid.UUID
	SubscriptionStatus SubscriptionStatus
}

// IsActive reports whether the tenant may submit runs in cloud mode.
func (o Organization) IsActive() bool {
	return o.SubscriptionStatus == SubscriptionActive
}

// PlanLimits are resolved once per admission decision (§4.3 step 2).
type PlanLimits struct {
	PlanID            uuid.UUID
	RunningCapacity   int
	QueuedCapacity    int
	MaxMonitors       int
	IncludedMinutes   int
	DataRetentionDays int
}

// Project scopes tests, jobs, and runs to a tenant (§3: Project).
type Project struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Slug     string
}
