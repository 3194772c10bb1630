package admission

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/supercheck-io/supercheck/pkg/org"
	"github.com/supercheck-io/supercheck/pkg/queue"
	"github.com/supercheck-io/supercheck/pkg/run"
	"github.com/supercheck-io/supercheck/pkg/testdef"
	"github.com/supercheck-io/supercheck/pkg/usage"
)

func newTestLedger(t *testing.T) *usage.Ledger {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return usage.NewLedger(rdb, slog.Default())
}

func newTestQueueBackend(t *testing.T) queue.Backend {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return queue.NewRedisQueue(rdb, slog.Default())
}

func TestController_Submit_SubscriptionInactive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID := uuid.New()
	mock.ExpectQuery("SELECT id, plan_id, subscription_status").
		WithArgs(tenantID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "plan_id", "subscription_status"}).
			AddRow(tenantID, nil, org.SubscriptionPastDue))

	orgStore := org.NewStore(mock)
	runStore := run.NewStore(mock)
	testStore := testdef.NewStore(mock)
	c := NewController(orgStore, runStore, testStore, newTestQueueBackend(t), newTestLedger(t), true, slog.Default())

	_, err = c.Submit(context.Background(), SubmitRequest{
		TenantID:  tenantID,
		ProjectID: uuid.New(),
		Test:      testdef.Test{ID: uuid.New(), Type: testdef.TypeAPI, Script: "noop"},
		Trigger:   run.TriggerManual,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestController_Submit_CapacityExceeded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID, projectID := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT id, plan_id, subscription_status").
		WithArgs(tenantID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "plan_id", "subscription_status"}).
			AddRow(tenantID, nil, org.SubscriptionActive))
	mock.ExpectQuery("SELECT count").
		WithArgs(projectID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT count").
		WithArgs(projectID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	orgStore := org.NewStore(mock)
	runStore := run.NewStore(mock)
	testStore := testdef.NewStore(mock)
	c := NewController(orgStore, runStore, testStore, newTestQueueBackend(t), newTestLedger(t), true, slog.Default())

	_, err = c.Submit(context.Background(), SubmitRequest{
		TenantID:  tenantID,
		ProjectID: projectID,
		Test:      testdef.Test{ID: uuid.New(), Type: testdef.TypeAPI, Script: "noop"},
		Trigger:   run.TriggerManual,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
