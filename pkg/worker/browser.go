package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// BrowserRunner spawns browser-automation scripts via the Playwright CLI.
// Launch is retried up to 3 times with 1s/2s/4s backoff to absorb
// transient browser-binary startup failures (§4.5), distinct from the
// queue substrate's job-level retry.
type BrowserRunner struct {
	BinPath string
	OnRetry func()

	// backoffs defaults to {1s, 2s, 4s}; overridable in tests.
	backoffs []time.Duration
}

// NewBrowserRunner builds a BrowserRunner with the production launch-retry
// backoff schedule.
func NewBrowserRunner(binPath string) *BrowserRunner {
	return &BrowserRunner{BinPath: binPath, backoffs: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}}
}

// harnessFile is the fixed file name the tenant-supplied script is written
// to, so the spawned process always invokes the same file. The script is
// written verbatim; no bootstrap code is added around it.
const harnessFile = "harness.spec.ts"

// Spawn writes the script under workDir and builds the child process
// command. The actual launch retry happens in Supervise's startWithRetry,
// which calls Spawn again for every attempt.
func (r *BrowserRunner) Spawn(ctx context.Context, workDir, script string) (*exec.Cmd, error) {
	path := filepath.Join(workDir, harnessFile)
	if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
		return nil, fmt.Errorf("worker: write browser script: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.BinPath, "test", path, "--reporter=json")
	cmd.Dir = workDir
	return cmd, nil
}

// LaunchBackoffs implements LaunchRetryer.
func (r *BrowserRunner) LaunchBackoffs() []time.Duration {
	if r.backoffs != nil {
		return r.backoffs
	}
	return []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
}

// LaunchRetried implements LaunchRetryer.
func (r *BrowserRunner) LaunchRetried() {
	if r.OnRetry != nil {
		r.OnRetry()
	}
}
