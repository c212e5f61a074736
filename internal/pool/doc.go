// Package pool implements the shared connection-pool core used by the LSP and
// MCP client subsystems.
//
// # Design
//
// A Pool is a keyed registry of live protocol clients with reference counting
// and lazy idle eviction. The crucial property is handshake deduplication: the
// pending entry is inserted into the map before its handshake begins, so N
// concurrent Get calls for one key spawn exactly one subprocess and all N
// callers receive the same client.
//
// Entries leave the pool three ways:
//
//   - the idle sweep finds refCount == 0 and lastUsed past the idle timeout
//   - the next Get finds the client dead and replaces it
//   - StopAll tears everything down on process-exit signals
//
// Release never evicts synchronously; a release-then-reacquire pattern keeps
// the warm connection. The pool is an ordinary constructible object so the
// composition root owns the single instance per protocol; nothing here is a
// package-level singleton.
package pool
