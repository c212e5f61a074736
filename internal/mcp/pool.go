// ABOUTME: Pooled accessor for MCP clients keyed by (session, skill, server name).
// ABOUTME: Resolves skill server specs from config and defers lifecycle to the pool core.

package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-plugin/internal/config"
	"github.com/2389/coven-plugin/internal/pool"
)

// Pool keys MCP clients by (sessionID, skill, serverName): each agent session
// gets its own client per skill server, so server-side state (auth, open
// pages, working directories) never bleeds across sessions.
type Pool struct {
	clients *pool.Pool[*Client]
	cfg     config.MCPConfig
	logger  *slog.Logger

	disabled map[string]bool
}

// NewPool constructs the MCP pool.
func NewPool(mcpCfg config.MCPConfig, poolCfg config.PoolConfig, logger *slog.Logger) *Pool {
	disabled := make(map[string]bool, len(mcpCfg.Disabled))
	for _, name := range mcpCfg.Disabled {
		disabled[name] = true
	}
	return &Pool{
		clients: pool.New[*Client](pool.Options{
			IdleTimeout:   poolCfg.IdleTimeout,
			SweepInterval: poolCfg.SweepInterval,
			Logger:        logger,
		}),
		cfg:      mcpCfg,
		logger:   logger,
		disabled: disabled,
	}
}

// Acquire returns a connected client for the named server of a skill, plus a
// release func. Unknown skills, unknown servers, and disabled servers are
// typed-out before any connection attempt.
func (p *Pool) Acquire(ctx context.Context, sessionID, skill, serverName string) (*Client, func(), error) {
	servers, ok := p.cfg.Skills[skill]
	if !ok {
		return nil, nil, fmt.Errorf("unknown skill %q", skill)
	}
	spec, ok := servers[serverName]
	if !ok {
		return nil, nil, fmt.Errorf("skill %q has no MCP server %q", skill, serverName)
	}
	if p.disabled[serverName] {
		return nil, nil, fmt.Errorf("MCP server %q is disabled", serverName)
	}

	key := sessionID + "\x00" + skill + "\x00" + serverName
	client, err := p.clients.Get(ctx, key, func(ctx context.Context) (*Client, error) {
		c := NewClient(serverName, spec, p.logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return client, func() { p.clients.Release(key) }, nil
}

// StopAll tears down every pooled client. Hooked to process-exit signals so
// no spawned MCP server is ever orphaned.
func (p *Pool) StopAll(ctx context.Context) {
	p.clients.StopAll(ctx)
}
