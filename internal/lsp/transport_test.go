// ABOUTME: Tests for the subprocess transport: early-exit diagnosis and the stderr ring.

package lsp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnDiagnosesImmediateExit(t *testing.T) {
	_, err := spawn("sh", []string{"-c", "echo broken config >&2; exit 3"}, t.TempDir(), 200*time.Millisecond)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, 3, startErr.ExitCode)
	assert.Contains(t, startErr.Stderr, "broken config")
}

func TestSpawnMissingBinary(t *testing.T) {
	_, err := spawn("definitely-not-a-real-binary-3417", nil, t.TempDir(), 100*time.Millisecond)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Error(t, startErr.Err)
}

func TestSpawnSurvivingProcess(t *testing.T) {
	p, err := spawn("sleep", []string{"5"}, t.TempDir(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, p.Exited())

	p.Close()
	p.Kill()

	// Wait for the reaper goroutine to observe the exit.
	deadline := time.Now().Add(2 * time.Second)
	for !p.Exited() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, p.Exited())

	// Kill after exit is a no-op.
	p.Kill()
	p.Close()
}

func TestExitDetailAnnotatesDeadServer(t *testing.T) {
	p, err := spawn("sh", []string{"-c", "echo segfault in worker >&2; sleep 5"}, t.TempDir(), 100*time.Millisecond)
	require.NoError(t, err)

	// The ring fills asynchronously as the child writes.
	deadline := time.Now().Add(2 * time.Second)
	for p.RecentStderr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Contains(t, p.RecentStderr(), "segfault in worker")

	reqErr := fmt.Errorf("definition request: connection closed")

	// Still running: the error passes through untouched.
	assert.Equal(t, reqErr, exitDetail(reqErr, p))

	p.Close()
	p.Kill()
	for !p.Exited() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, p.Exited())

	enriched := exitDetail(reqErr, p)
	assert.ErrorIs(t, enriched, reqErr)
	assert.Contains(t, enriched.Error(), "server exited")
	assert.Contains(t, enriched.Error(), "segfault in worker")
}

func TestRingBufferDropsOldChunks(t *testing.T) {
	var r ringBuffer
	for i := 0; i < stderrRingCap+20; i++ {
		fmt.Fprintf(&r, "chunk-%d\n", i)
	}

	out := r.String()
	assert.NotContains(t, out, "chunk-0\n")
	assert.Contains(t, out, fmt.Sprintf("chunk-%d", stderrRingCap+19))
}
