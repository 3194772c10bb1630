package worker

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fixedRunner spawns a fixed binary/args pair regardless of the supplied
// script, letting tests drive Supervise against real short-lived processes.
type fixedRunner struct {
	bin  string
	args []string
}

func (r fixedRunner) Spawn(ctx context.Context, workDir, script string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, r.bin, r.args...)
	cmd.Dir = workDir
	return cmd, nil
}

func TestSupervise_Success(t *testing.T) {
	runner := fixedRunner{bin: "/bin/true"}
	outcome, err := Supervise(context.Background(), runner, "", RunOptions{Timeout: time.Second, CancelPollInterval: 10 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	require.True(t, outcome.Passed)
	require.NotEmpty(t, outcome.ArtifactsDir)
}

func TestSupervise_NonZeroExit(t *testing.T) {
	runner := fixedRunner{bin: "/bin/false"}
	outcome, err := Supervise(context.Background(), runner, "", RunOptions{Timeout: time.Second, CancelPollInterval: 10 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	require.False(t, outcome.Passed)
	require.Equal(t, 1, outcome.ExitCode)
}

func TestSupervise_Timeout(t *testing.T) {
	runner := fixedRunner{bin: "/bin/sleep", args: []string{"5"}}
	start := time.Now()
	outcome, err := Supervise(context.Background(), runner, "", RunOptions{Timeout: 100 * time.Millisecond, CancelPollInterval: 10 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	require.True(t, outcome.TimedOut)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSupervise_Cancelled(t *testing.T) {
	runner := fixedRunner{bin: "/bin/sleep", args: []string{"5"}}
	calls := 0
	cancelled := func() bool {
		calls++
		return calls > 2
	}
	outcome, err := Supervise(context.Background(), runner, "", RunOptions{Timeout: 5 * time.Second, CancelPollInterval: 10 * time.Millisecond}, cancelled, nil)
	require.NoError(t, err)
	require.True(t, outcome.Cancelled)
}

// flakyLaunchRunner fails to start for its first failFor Spawn calls (a
// nonexistent binary) and then succeeds, letting the test prove Supervise
// actually recovers from a transient cmd.Start() failure rather than only
// retrying a deterministic, unchanging probe.
type flakyLaunchRunner struct {
	calls    int
	failFor  int
	backoffs []time.Duration
	retries  int
}

func (r *flakyLaunchRunner) Spawn(ctx context.Context, workDir, script string) (*exec.Cmd, error) {
	r.calls++
	if r.calls <= r.failFor {
		return exec.CommandContext(ctx, "definitely-not-a-real-binary"), nil
	}
	return exec.CommandContext(ctx, "/bin/true"), nil
}

func (r *flakyLaunchRunner) LaunchBackoffs() []time.Duration { return r.backoffs }
func (r *flakyLaunchRunner) LaunchRetried()                  { r.retries++ }

func TestSupervise_RetriesTransientStartFailure(t *testing.T) {
	runner := &flakyLaunchRunner{failFor: 2, backoffs: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}
	outcome, err := Supervise(context.Background(), runner, "", RunOptions{Timeout: time.Second, CancelPollInterval: 10 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	require.True(t, outcome.Passed)
	require.Equal(t, 2, runner.retries)
	require.Equal(t, 3, runner.calls)
}

func TestSupervise_GivesUpAfterExhaustingLaunchRetries(t *testing.T) {
	runner := &flakyLaunchRunner{failFor: 99, backoffs: []time.Duration{time.Millisecond, time.Millisecond}}
	_, err := Supervise(context.Background(), runner, "", RunOptions{Timeout: time.Second, CancelPollInterval: 10 * time.Millisecond}, nil, nil)
	require.Error(t, err)
	require.Equal(t, 2, runner.retries)
	require.Equal(t, 3, runner.calls)
}

func TestMinimalEnv_NeverLeaksParentEnv(t *testing.T) {
	env := minimalEnv("/tmp/work")
	for _, e := range env {
		require.NotContains(t, e, "AWS_SECRET")
		require.NotContains(t, e, "DATABASE_URL")
	}
	require.Len(t, env, 5)
}
