// Package builtins defines the plugin's own MCP tool surface.
//
// Three packs, one per subsystem: language intelligence tools over the pooled
// LSP clients, background task tools over the session poller, and skill tools
// that proxy external MCP servers. Handlers never return Go errors to the
// host; failures become error results with enough detail to act on (install
// hints, captured stderr, session ids).
package builtins
