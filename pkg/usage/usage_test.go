package usage

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewLedger(rdb, slog.Default())
}

func TestLedger_ConsumeCredit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	tenantID := uuid.New()

	ok, err := l.ConsumeCredit(ctx, tenantID, "ai_generation", 6, 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.ConsumeCredit(ctx, tenantID, "ai_generation", 6, 10)
	require.NoError(t, err)
	require.False(t, ok, "consuming beyond the limit must be denied, not partially applied")
}

func TestLedger_RecordMinutes_Idempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	tenantID, runID := uuid.New(), uuid.New()

	calls := 0
	record := func(context.Context) error { calls++; return nil }

	require.NoError(t, l.RecordMinutes(ctx, tenantID, runID, "k6", 2.5, record))
	require.NoError(t, l.RecordMinutes(ctx, tenantID, runID, "k6", 2.5, record))
	require.Equal(t, 1, calls, "a duplicate delivery for the same (tenant, run, kind) must not double-record")
}
