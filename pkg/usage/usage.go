// Package usage implements the Usage Ledger (C10): atomic credit
// consumption against a tenant's plan allowance, idempotent minute
// recording, and a best-effort external sync hook (§4.10).
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/supercheck-io/supercheck/internal/telemetry"
)

// consumeScript atomically checks a tenant+kind counter against the limit
// and increments it in one round trip, leaving it unchanged when the limit
// would be exceeded — race-free across replicas (§4.10, invariant:
// two concurrent ConsumeCredit calls that would together exceed the limit
// result in exactly one denied).
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local units = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call('GET', key) or '0')
if current + units > limit then
  return 0
end

local newVal = redis.call('INCRBY', key, units)
if tonumber(redis.call('TTL', key)) < 0 then
  redis.call('EXPIRE', key, ttl)
end
return newVal
`)

// refundScript decrements a tenant+kind counter without letting it go
// negative, the compensating half of consumeScript for rollback on
// downstream failure after a credit has already been consumed.
var refundScript = redis.NewScript(`
local key = KEYS[1]
local units = tonumber(ARGV[1])

local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  return 0
end

local newVal = current - units
if newVal < 0 then
  newVal = 0
end
redis.call('SET', key, newVal, 'KEEPTTL')
return newVal
`)

// periodTTL bounds a billing-period credit counter; real period boundaries
// are owned by the billing system, this is a defensive expiry only.
const periodTTL = 31 * 24 * time.Hour

func creditKey(tenantID uuid.UUID, kind string) string {
	return fmt.Sprintf("usage:credit:%s:%s", tenantID, kind)
}

func minuteDedupKey(tenantID, runID uuid.UUID, kind string) string {
	return fmt.Sprintf("usage:minutes:%s:%s:%s", tenantID, kind, runID)
}

// Ledger tracks tenant credit consumption and run-minute usage.
type Ledger struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewLedger builds a Ledger.
func NewLedger(rdb *redis.Client, logger *slog.Logger) *Ledger {
	return &Ledger{rdb: rdb, logger: logger}
}

// ConsumeCredit attempts to consume units of kind against limit for a
// tenant, returning false if doing so would exceed the limit (§4.10).
func (l *Ledger) ConsumeCredit(ctx context.Context, tenantID uuid.UUID, kind string, units, limit int) (bool, error) {
	res, err := consumeScript.Run(ctx, l.rdb, []string{creditKey(tenantID, kind)}, units, limit, int(periodTTL.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("usage: consume credit: %w", err)
	}
	n, _ := res.(int64)
	if n == 0 {
		telemetry.UsageCreditsDeniedTotal.WithLabelValues(kind).Inc()
		return false, nil
	}
	telemetry.UsageCreditsConsumedTotal.WithLabelValues(kind).Add(float64(units))
	return true, nil
}

// Refund reverses a prior ConsumeCredit of units for a tenant+kind,
// atomic rollback on downstream failure after admission (§4.3 step 4).
func (l *Ledger) Refund(ctx context.Context, tenantID uuid.UUID, kind string, units int) error {
	if _, err := refundScript.Run(ctx, l.rdb, []string{creditKey(tenantID, kind)}, units).Result(); err != nil {
		return fmt.Errorf("usage: refund credit: %w", err)
	}
	telemetry.UsageCreditsConsumedTotal.WithLabelValues(kind).Add(-float64(units))
	return nil
}

// RecordMinutes records a run's consumed duration idempotently by
// (tenant_id, run_id, kind): a retried or duplicate delivery of the same
// run's completion is a no-op rather than double-billing (§9(b) decision:
// at-least-once delivery with this dedupe key).
func (l *Ledger) RecordMinutes(ctx context.Context, tenantID, runID uuid.UUID, kind string, minutes float64, record func(context.Context) error) error {
	key := minuteDedupKey(tenantID, runID, kind)
	set, err := l.rdb.SetNX(ctx, key, "1", periodTTL).Result()
	if err != nil {
		return fmt.Errorf("usage: record minutes: dedupe check: %w", err)
	}
	if !set {
		l.logger.Debug("usage: duplicate minute record suppressed", "tenant_id", tenantID, "run_id", runID, "kind", kind)
		return nil
	}
	if err := record(ctx); err != nil {
		l.rdb.Del(ctx, key)
		return fmt.Errorf("usage: record minutes: %w", err)
	}
	return nil
}

// PendingSyncItem is a locally recorded usage event awaiting the optional
// external-reporting hook.
type PendingSyncItem struct {
	TenantID uuid.UUID
	RunID    uuid.UUID
	Kind     string
	Minutes  float64
}

// SyncPending is the optional external-reporting hook consumed by an
// off-core collaborator (e.g. a billing vendor). It is at-least-once: a
// failed batch is safe to retry because the vendor call is expected to be
// idempotent on (tenant_id, run_id, kind) (§9(b)).
func (l *Ledger) SyncPending(ctx context.Context, batch []PendingSyncItem, push func(context.Context, []PendingSyncItem) error) error {
	if len(batch) == 0 {
		return nil
	}
	if err := push(ctx, batch); err != nil {
		return fmt.Errorf("usage: sync pending: %w", err)
	}
	return nil
}
