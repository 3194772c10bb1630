package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBrowserRunner_Spawn_WritesScript(t *testing.T) {
	r := &BrowserRunner{BinPath: "/bin/true"}
	workDir := t.TempDir()

	cmd, err := r.Spawn(context.Background(), workDir, "export default function() {}")
	require.NoError(t, err)
	require.Equal(t, "/bin/true", cmd.Path)
	require.FileExists(t, filepath.Join(workDir, harnessFile))
}

func TestBrowserRunner_LaunchBackoffs_DefaultsToThreeSteps(t *testing.T) {
	r := NewBrowserRunner("/bin/true")
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, r.LaunchBackoffs())
}
