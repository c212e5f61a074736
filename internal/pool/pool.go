// ABOUTME: Generic reference-counted connection pool shared by the LSP and MCP clients.
// ABOUTME: Deduplicates concurrent handshakes, lazily evicts idle entries, and tears down on exit.

package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Get after StopAll has run.
var ErrClosed = errors.New("pool is closed")

// Client is the minimal surface the pool needs from a pooled connection.
type Client interface {
	// IsAlive reports whether the underlying connection is still usable.
	IsAlive() bool
	// Stop shuts the connection down. Must be safe to call twice.
	Stop(ctx context.Context) error
}

// StartFunc creates and handshakes a new client for a key. It is invoked at
// most once per key while the resulting client stays alive.
type StartFunc[C Client] func(ctx context.Context) (C, error)

// Options tunes a Pool. Zero values fall back to the listed defaults.
type Options struct {
	// IdleTimeout is how long an entry with zero references may sit unused
	// before the sweep evicts it. Default 5m.
	IdleTimeout time.Duration
	// SweepInterval is how often the idle sweep runs. Default 60s.
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// Pool is a keyed, reference-counted registry of live clients. Concurrent
// Get calls for the same key are serialized onto a single handshake; a dead
// entry is replaced on the next Get. The sweep goroutine starts lazily on
// first client creation and runs until StopAll.
type Pool[C Client] struct {
	mu      sync.Mutex
	entries map[string]*entry[C]

	idleTimeout   time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger

	// now is a test hook for the sweep's clock.
	now func() time.Time

	sweepStarted bool
	sweepStop    chan struct{}
	closed       bool
}

type entry[C Client] struct {
	client   C
	refCount int
	lastUsed time.Time

	// ready is closed once the handshake finishes, success or failure.
	// err is set before the close on failure; the entry is removed from
	// the map in the same critical section, so waiters re-enter Get and
	// either find a fresh entry or start a new handshake themselves.
	ready   chan struct{}
	pending bool
	err     error
}

// New constructs an empty pool.
func New[C Client](opts Options) *Pool[C] {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool[C]{
		entries:       make(map[string]*entry[C]),
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		logger:        opts.Logger,
		now:           time.Now,
	}
}

// Get returns the live client for key, starting one via start if none exists.
// The caller holds a reference until Release(key). Exactly one handshake is in
// flight per key at any time; concurrent callers await its outcome.
func (p *Pool[C]) Get(ctx context.Context, key string, start StartFunc[C]) (C, error) {
	var zero C
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return zero, ErrClosed
		}

		e, ok := p.entries[key]
		if ok && e.pending {
			ready := e.ready
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-ready:
			}
			if e.err != nil {
				return zero, e.err
			}
			continue
		}

		if ok {
			if e.client.IsAlive() {
				e.refCount++
				e.lastUsed = p.now()
				client := e.client
				p.mu.Unlock()
				return client, nil
			}
			// Dead entry: remove it and fall through to a fresh start.
			delete(p.entries, key)
			dead := e.client
			p.mu.Unlock()
			p.logger.Warn("pooled client found dead, replacing", "key", key)
			_ = dead.Stop(ctx)
			continue
		}

		// Insert the pending entry before releasing the lock so concurrent
		// callers land in the wait branch instead of spawning a duplicate.
		e = &entry[C]{
			refCount: 1,
			lastUsed: p.now(),
			ready:    make(chan struct{}),
			pending:  true,
		}
		p.entries[key] = e
		p.startSweepLocked()
		p.mu.Unlock()

		client, err := start(ctx)

		p.mu.Lock()
		e.pending = false
		if err != nil {
			delete(p.entries, key)
			e.err = fmt.Errorf("starting client for %s: %w", key, err)
			close(e.ready)
			p.mu.Unlock()
			return zero, e.err
		}
		e.client = client
		close(e.ready)
		p.mu.Unlock()

		p.logger.Debug("pooled client started", "key", key)
		return client, nil
	}
}

// Release drops one reference for key. The entry is not torn down here; a
// rapid release-then-reacquire reuses the connection, and the sweep reclaims
// entries that stay idle. Unknown keys are a no-op, and the count never goes
// below zero.
func (p *Pool[C]) Release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok && e.refCount > 0 {
		e.refCount--
	}
}

// Len reports the number of entries, pending included.
func (p *Pool[C]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// StopAll stops every entry and closes the pool. Used on process-exit signals;
// in-flight use of a client is sacrificed for guaranteed subprocess cleanup.
func (p *Pool[C]) StopAll(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.sweepStarted {
		close(p.sweepStop)
		p.sweepStarted = false
	}
	victims := make([]*entry[C], 0, len(p.entries))
	for key, e := range p.entries {
		delete(p.entries, key)
		if !e.pending {
			victims = append(victims, e)
		}
	}
	p.mu.Unlock()

	for _, e := range victims {
		if err := e.client.Stop(ctx); err != nil {
			p.logger.Warn("stopping pooled client", "error", err)
		}
	}
}

func (p *Pool[C]) startSweepLocked() {
	if p.sweepStarted || p.closed {
		return
	}
	p.sweepStarted = true
	p.sweepStop = make(chan struct{})
	go p.sweepLoop(p.sweepStop)
}

func (p *Pool[C]) sweepLoop(stop chan struct{}) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

// sweepOnce evicts every ready entry that has zero references and has been
// unused longer than the idle timeout. A tick with zero entries is a no-op.
func (p *Pool[C]) sweepOnce() {
	cutoff := p.now().Add(-p.idleTimeout)

	p.mu.Lock()
	var victims []*entry[C]
	for key, e := range p.entries {
		if e.pending || e.refCount > 0 {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			delete(p.entries, key)
			victims = append(victims, e)
			p.logger.Debug("evicting idle pooled client", "key", key)
		}
	}
	p.mu.Unlock()

	for _, e := range victims {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.client.Stop(ctx); err != nil {
			p.logger.Warn("stopping idle pooled client", "error", err)
		}
		cancel()
	}
}
