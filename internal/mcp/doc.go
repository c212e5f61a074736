// Package mcp implements the pooled Model Context Protocol client subsystem.
//
// It mirrors the lsp package's shape on the MCP side: a tagged server spec
// (stdio command vs HTTP endpoint), a managed client that lazily establishes
// an SDK session and proxies the typed operations (listTools, callTool,
// readResource, getPrompt, ...), and a pooled accessor keyed by
// (sessionID, skill, serverName) built on the shared pool core.
//
// HTTP servers get static headers applied to every request; endpoints ending
// in /sse use the SSE transport directly, others try streamable HTTP and fall
// back to SSE. Stdio servers have their stderr captured in a bounded buffer
// so a failed spawn surfaces the actual reason.
package mcp
