package worker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/supercheck-io/supercheck/pkg/run"
)

func TestPool_Classify(t *testing.T) {
	p := &Pool{}

	tests := []struct {
		name      string
		runErr    error
		outcome   Outcome
		wantState run.Status
	}{
		{"infra error", errors.New("boom"), Outcome{}, run.StatusError},
		{"cancelled", nil, Outcome{Cancelled: true}, run.StatusCancelled},
		{"timed out", nil, Outcome{TimedOut: true}, run.StatusTimedOut},
		{"passed", nil, Outcome{Passed: true}, run.StatusPassed},
		{"non-zero exit", nil, Outcome{Passed: false, ExitCode: 1}, run.StatusFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := p.classify(tc.runErr, tc.outcome)
			require.Equal(t, tc.wantState, status)
		})
	}
}
