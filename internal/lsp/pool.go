// ABOUTME: Pooled accessor for LSP clients keyed by (workspace root, server id).
// ABOUTME: Resolves the server for a file, then defers lifecycle to the shared pool core.

package lsp

import (
	"context"
	"log/slog"

	"github.com/2389/coven-plugin/internal/config"
	"github.com/2389/coven-plugin/internal/pool"
)

// Pool is the single authority for "does a usable language server already
// exist for this workspace". One instance is created at the composition root.
type Pool struct {
	clients  *pool.Pool[*Client]
	registry *Registry
	timings  config.LSPConfig
	logger   *slog.Logger
}

// NewPool constructs the LSP pool.
func NewPool(lspCfg config.LSPConfig, poolCfg config.PoolConfig, logger *slog.Logger) *Pool {
	return &Pool{
		clients: pool.New[*Client](pool.Options{
			IdleTimeout:   poolCfg.IdleTimeout,
			SweepInterval: poolCfg.SweepInterval,
			Logger:        logger,
		}),
		registry: NewRegistry(lspCfg),
		timings:  lspCfg,
		logger:   logger,
	}
}

// Acquire returns a ready client for the file's language server in the given
// workspace, plus a release func the caller must invoke when done. The client
// has completed its initialize handshake before Acquire returns.
func (p *Pool) Acquire(ctx context.Context, workspaceRoot, filePath string) (*Client, func(), error) {
	spec, err := p.registry.ServerForFile(filePath)
	if err != nil {
		return nil, nil, err
	}

	key := workspaceRoot + "\x00" + spec.ID
	client, err := p.clients.Get(ctx, key, func(ctx context.Context) (*Client, error) {
		c := NewClient(spec, workspaceRoot, p.timings, p.logger)
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		if err := c.Initialize(ctx); err != nil {
			// The process is up but the handshake failed; don't leak it.
			_ = c.Stop(ctx)
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return client, func() { p.clients.Release(key) }, nil
}

// StopAll tears down every pooled server. Hooked to process-exit signals so
// no language server is ever orphaned.
func (p *Pool) StopAll(ctx context.Context) {
	p.clients.StopAll(ctx)
}
