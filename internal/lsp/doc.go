// Package lsp implements the pooled language-server client subsystem.
//
// # Architecture
//
// Each pooled entry owns one spawned server process and one JSON-RPC
// connection over its stdio, keyed by (workspace root, server id). The
// Registry maps file extensions to launchable server specs and refuses to
// spawn anything that is not installed, returning an install hint instead.
//
// The Client handles the protocol handshake, idempotent document opens, and
// the typed requests the tool surface needs (definition, references, rename,
// diagnostics). Server-pushed diagnostics are cached per document so the
// diagnostics tool can fall back to them when the pull-based request is
// unavailable.
//
// Line numbers are 1-based at the package boundary and converted to the wire
// protocol's 0-based lines exactly once, in the request constructors;
// formatters convert back on the way out. Character offsets are 0-based on
// both sides.
package lsp
