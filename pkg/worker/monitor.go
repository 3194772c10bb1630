package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// MonitorRunner spawns lightweight synthetic checks (API/uptime probes) via
// a standalone monitor binary, distinct from the browser and load-test
// runners: a monitor script is a small HTTP/TCP assertion set rather than a
// full browser session or load profile, so launch is attempted once with no
// retry-with-backoff schedule of its own — a failed launch here is reported
// as a normal job failure and left to the queue substrate's retry policy.
type MonitorRunner struct {
	BinPath string
}

// NewMonitorRunner builds a MonitorRunner.
func NewMonitorRunner(binPath string) *MonitorRunner {
	return &MonitorRunner{BinPath: binPath}
}

const monitorScriptFile = "monitor.json"

// Spawn writes the check definition to workDir and starts the monitor
// binary against it.
func (r *MonitorRunner) Spawn(ctx context.Context, workDir, script string) (*exec.Cmd, error) {
	path := filepath.Join(workDir, monitorScriptFile)
	if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
		return nil, fmt.Errorf("worker: write monitor check: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.BinPath, "check", path, "--report", filepath.Join(workDir, "result.json"))
	cmd.Dir = workDir
	return cmd, nil
}
