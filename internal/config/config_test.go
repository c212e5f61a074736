// ABOUTME: Tests for configuration loading, env expansion, and duration parsing.
// ABOUTME: Validates defaults and rejection of malformed server specs.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("COVEN_TEST_TOKEN", "secret-token")

	path := writeConfig(t, `
session_host:
  base_url: "http://127.0.0.1:4096"
  token: "${COVEN_TEST_TOKEN}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.SessionHost.Token)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
lsp:
  initialize_settle: "450ms"
pool:
  idle_timeout: "2m"
background:
  poll_interval: "1s"
  retention: "30m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 450*time.Millisecond, cfg.LSP.InitializeSettle)
	assert.Equal(t, 2*time.Minute, cfg.Pool.IdleTimeout)
	assert.Equal(t, time.Second, cfg.Background.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Background.Retention)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
pool:
  idle_timeout: "five minutes"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool.idle_timeout")
}

func TestDefaultsApplied(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultInitializeSettle, cfg.LSP.InitializeSettle)
	assert.Equal(t, DefaultOpenFileSettle, cfg.LSP.OpenFileSettle)
	assert.Equal(t, DefaultStartupGrace, cfg.LSP.StartupGrace)
	assert.Equal(t, DefaultIdleTimeout, cfg.Pool.IdleTimeout)
	assert.Equal(t, DefaultSweepInterval, cfg.Pool.SweepInterval)
	assert.Equal(t, DefaultStableThreshold, cfg.Background.StableThreshold)
	assert.Equal(t, DefaultRetention, cfg.Background.Retention)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateLSPServerNeedsCommand(t *testing.T) {
	path := writeConfig(t, `
lsp:
  servers:
    gopls:
      extensions: [".go"]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lsp.servers.gopls.command")
}

func TestValidateMCPServerTypes(t *testing.T) {
	t.Run("stdio requires command", func(t *testing.T) {
		path := writeConfig(t, `
mcp:
  skills:
    browser:
      playwright:
        type: stdio
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "command is required")
	})

	t.Run("http requires endpoint", func(t *testing.T) {
		path := writeConfig(t, `
mcp:
  skills:
    browser:
      search:
        type: http
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endpoint is required")
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		path := writeConfig(t, `
mcp:
  skills:
    browser:
      search:
        type: websocket
        endpoint: "ws://x"
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be stdio or http")
	})

	t.Run("empty type defaults to stdio", func(t *testing.T) {
		path := writeConfig(t, `
mcp:
  skills:
    browser:
      playwright:
        command: "npx"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "npx", cfg.MCP.Skills["browser"]["playwright"].Command)
	})
}
