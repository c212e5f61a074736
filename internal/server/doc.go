// Package server assembles the plugin: it resolves every subsystem and
// registers the builtin tools on the MCP server. No business logic lives
// here, only wiring.
package server
