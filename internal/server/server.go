// ABOUTME: Composition root: wires config, pools, session host, and task manager
// ABOUTME: into the MCP server the plugin exposes over stdio.

package server

import (
	"context"
	"log/slog"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/2389/coven-plugin/internal/background"
	"github.com/2389/coven-plugin/internal/builtins"
	"github.com/2389/coven-plugin/internal/config"
	"github.com/2389/coven-plugin/internal/history"
	"github.com/2389/coven-plugin/internal/lsp"
	"github.com/2389/coven-plugin/internal/mcp"
	"github.com/2389/coven-plugin/internal/sessionhost"
)

// Version is set by goreleaser at build time.
var Version = "dev"

// New builds the fully wired MCP server. The returned cleanup func tears down
// every pooled connection and spawned process; it is always non-nil and must
// run on shutdown.
func New(cfg *config.Config, logger *slog.Logger) (*mcpserver.MCPServer, func(), error) {
	workspaceRoot, err := os.Getwd()
	if err != nil {
		return nil, func() {}, err
	}

	lspPool := lsp.NewPool(cfg.LSP, cfg.Pool, logger)
	mcpPool := mcp.NewPool(cfg.MCP, cfg.Pool, logger)
	host := sessionhost.New(cfg.SessionHost, logger)

	var archive background.Archiver
	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.NewStore(cfg.History.Path, logger)
		if err != nil {
			// History is an archive, not a dependency; run without it.
			logger.Warn("task history unavailable", "path", cfg.History.Path, "error", err)
		} else {
			archive = store
		}
	}

	tasks := background.NewManager(host, cfg.Background, archive, logger)

	s := mcpserver.NewMCPServer(
		"coven-plugin",
		Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	builtins.Register(s, builtins.Deps{
		WorkspaceRoot: workspaceRoot,
		LSP:           lspPool,
		MCP:           mcpPool,
		Tasks:         tasks,
	})

	cleanup := func() {
		ctx := context.Background()
		tasks.Shutdown(ctx)
		lspPool.StopAll(ctx)
		mcpPool.StopAll(ctx)
		if store != nil {
			store.Close()
		}
		logger.Info("plugin shut down")
	}

	return s, cleanup, nil
}
