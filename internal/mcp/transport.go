// ABOUTME: Bounded stderr capture for spawned MCP server processes.

package mcp

import (
	"strings"
	"sync"
)

// stderrChunkCap bounds retained stderr chunks so a chatty or crash-looping
// server cannot grow memory unbounded.
const stderrChunkCap = 100

type stderrBuffer struct {
	mu     sync.Mutex
	chunks []string
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, string(p))
	if len(b.chunks) > stderrChunkCap {
		b.chunks = b.chunks[len(b.chunks)-stderrChunkCap:]
	}
	return len(p), nil
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(strings.Join(b.chunks, ""))
}
