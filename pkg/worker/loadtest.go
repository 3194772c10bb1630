package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// LoadTestRunner spawns k6 load-test scripts. Concurrency across the whole
// pool is capped independently of the queue's own max-in-flight gate,
// since a single load-test script can itself saturate CPU/network (§4.5:
// K6_MAX_CONCURRENCY). Acquire/Release bound that cap; the caller (Pool)
// holds the slot for the full Supervise lifetime rather than Spawn alone,
// since only the caller observes the process's actual exit.
type LoadTestRunner struct {
	BinPath string
	sem     chan struct{}
}

// NewLoadTestRunner builds a LoadTestRunner that admits at most
// maxConcurrency scripts at once.
func NewLoadTestRunner(binPath string, maxConcurrency int) *LoadTestRunner {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &LoadTestRunner{BinPath: binPath, sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a concurrency slot is free or ctx is done.
func (r *LoadTestRunner) Acquire(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired via Acquire.
func (r *LoadTestRunner) Release() { <-r.sem }

const loadTestScriptFile = "script.js"

// Spawn writes the script to workDir and starts k6 against it. Callers must
// hold an Acquire'd slot for the duration of the run.
func (r *LoadTestRunner) Spawn(ctx context.Context, workDir, script string) (*exec.Cmd, error) {
	path := filepath.Join(workDir, loadTestScriptFile)
	if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
		return nil, fmt.Errorf("worker: write load-test script: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.BinPath, "run",
		"--summary-export", filepath.Join(workDir, "summary.json"),
		"--out", "web-dashboard=export="+filepath.Join(workDir, "dashboard.html"),
		path)
	cmd.Dir = workDir
	return cmd, nil
}
