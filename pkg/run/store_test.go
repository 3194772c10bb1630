package run

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateRun(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	projectID := uuid.New()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(pgxmock.AnyArg(), (*uuid.UUID)(nil), projectID, StatusQueued, TriggerManual, "us-east", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewStore(mock)
	id, err := s.CreateRun(context.Background(), projectID, nil, TriggerManual, "us-east", Metadata{Source: "api"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TransitionRun(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		wantErr      bool
	}{
		{name: "success", rowsAffected: 1, wantErr: false},
		{name: "state conflict when already transitioned", rowsAffected: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			runID := uuid.New()
			mock.ExpectExec("UPDATE runs SET status").
				WithArgs(StatusPassed, pgxmock.AnyArg(), pgxmock.AnyArg(), runID, StatusRunning).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.rowsAffected))

			s := NewStore(mock)
			err = s.TransitionRun(context.Background(), runID, StatusRunning, StatusPassed, nil, nil)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Cancel_DoesNotOverwriteTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	mock.ExpectExec("UPDATE runs SET status").
		WithArgs(StatusCancelled, runID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s := NewStore(mock)
	err = s.Cancel(context.Background(), runID)
	require.NoError(t, err, "cancelling an already-terminal run is a no-op, not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountEarlierQueued(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	projectID := uuid.New()
	now := time.Now()
	mock.ExpectQuery("SELECT count").
		WithArgs(projectID, StatusQueued, now).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	s := NewStore(mock)
	n, err := s.CountEarlierQueued(context.Background(), projectID, now)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusPassed, true},
		{StatusFailed, true},
		{StatusError, true},
		{StatusCancelled, true},
		{StatusTimedOut, true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.status.Terminal(), tt.status)
	}
}
