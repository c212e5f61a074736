// ABOUTME: Single-connection LSP client: owns one server process and its JSON-RPC session.
// ABOUTME: Handles the initialize handshake, document lifecycle, and server-pushed notifications.

package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/2389/coven-plugin/internal/config"
)

// initializationWarmup is the window after initialize during which a request
// timeout is attributed to the server still indexing the workspace.
const initializationWarmup = 10 * time.Second

// StillInitializingError marks a request that timed out while the server was
// still completing its initial workspace indexing. Callers should retry
// shortly instead of treating this as a hard failure.
type StillInitializingError struct {
	ServerID string
}

func (e *StillInitializingError) Error() string {
	return fmt.Sprintf("language server %s is still initializing, retry shortly", e.ServerID)
}

// Client owns exactly one language server process and its JSON-RPC connection.
// It caches server-pushed diagnostics per document and tracks which files have
// been opened so didOpen is sent at most once per path.
type Client struct {
	spec          ServerSpec
	workspaceRoot string
	timings       config.LSPConfig
	logger        *slog.Logger

	proc *process
	conn jsonrpc2.Conn

	mu            sync.Mutex
	openFiles     map[string]bool
	diagnostics   map[uri.URI][]protocol.Diagnostic
	initializedAt time.Time
	stopped       bool

	stopOnce sync.Once
}

// NewClient constructs a client for one (workspaceRoot, server) pair. The
// caller must Start and Initialize it before issuing requests; the pool does
// both as part of its handshake.
func NewClient(spec ServerSpec, workspaceRoot string, timings config.LSPConfig, logger *slog.Logger) *Client {
	return &Client{
		spec:          spec,
		workspaceRoot: workspaceRoot,
		timings:       timings,
		logger:        logger.With("component", "lsp", "server", spec.ID),
		openFiles:     make(map[string]bool),
		diagnostics:   make(map[uri.URI][]protocol.Diagnostic),
	}
}

// Start spawns the server process, begins draining stderr, and installs the
// notification handlers. Fails with a StartError if the process exits within
// the startup grace window.
func (c *Client) Start(ctx context.Context) error {
	proc, err := spawn(c.spec.Command, c.spec.Args, c.workspaceRoot, c.timings.StartupGrace)
	if err != nil {
		return err
	}
	c.proc = proc

	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(proc))
	conn.Go(ctx, c.handle)
	c.conn = conn

	c.logger.Debug("language server started", "workspace", c.workspaceRoot)
	return nil
}

// Initialize performs the protocol handshake and waits the settle delay.
// Some servers acknowledge initialize before they are actually responsive,
// so the settle delay is part of the handshake, not an optimization.
func (c *Client) Initialize(ctx context.Context) error {
	params := protocol.InitializeParams{
		ProcessID:    int32(os.Getpid()),
		RootURI:      uri.File(c.workspaceRoot),
		Capabilities: protocol.ClientCapabilities{},
		WorkspaceFolders: []protocol.WorkspaceFolder{
			{URI: string(uri.File(c.workspaceRoot)), Name: "workspace"},
		},
	}

	var result protocol.InitializeResult
	if err := c.call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}
	if err := c.conn.Notify(ctx, protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.timings.InitializeSettle):
	}

	c.mu.Lock()
	c.initializedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// OpenFile sends a didOpen notification for the path the first time it is
// seen in this client's lifetime, then waits the open-file settle delay so
// the server has processed the document before any request references it.
func (c *Client) OpenFile(ctx context.Context, path string) error {
	c.mu.Lock()
	if c.openFiles[path] {
		c.mu.Unlock()
		return nil
	}
	c.openFiles[path] = true
	c.mu.Unlock()

	content, err := os.ReadFile(path)
	if err != nil {
		c.mu.Lock()
		delete(c.openFiles, path)
		c.mu.Unlock()
		return fmt.Errorf("reading %s: %w", path, err)
	}

	params := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        uri.File(path),
			LanguageID: protocol.LanguageIdentifier(languageID(path)),
			Version:    1,
			Text:       string(content),
		},
	}
	if err := c.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, params); err != nil {
		c.mu.Lock()
		delete(c.openFiles, path)
		c.mu.Unlock()
		return fmt.Errorf("didOpen %s: %w", path, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.timings.OpenFileSettle):
	}
	return nil
}

// Definition resolves the definition at the given position. Line is 1-based
// as supplied by callers; the wire protocol is 0-based, converted here at the
// request boundary. Character offsets are 0-based on both sides.
func (c *Client) Definition(ctx context.Context, path string, line, character int) ([]protocol.Location, error) {
	if err := c.OpenFile(ctx, path); err != nil {
		return nil, err
	}

	params := protocol.DefinitionParams{
		TextDocumentPositionParams: positionParams(path, line, character),
	}
	var locations []protocol.Location
	if err := c.call(ctx, protocol.MethodTextDocumentDefinition, params, &locations); err != nil {
		return nil, fmt.Errorf("definition request: %w", err)
	}
	return locations, nil
}

// References lists references to the symbol at the given position.
func (c *Client) References(ctx context.Context, path string, line, character int, includeDeclaration bool) ([]protocol.Location, error) {
	if err := c.OpenFile(ctx, path); err != nil {
		return nil, err
	}

	params := protocol.ReferenceParams{
		TextDocumentPositionParams: positionParams(path, line, character),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: includeDeclaration},
	}
	var locations []protocol.Location
	if err := c.call(ctx, protocol.MethodTextDocumentReferences, params, &locations); err != nil {
		return nil, fmt.Errorf("references request: %w", err)
	}
	return locations, nil
}

// Rename computes the workspace edit for renaming the symbol at the given
// position. The edit is returned, not applied; the tool surface owns writes.
func (c *Client) Rename(ctx context.Context, path string, line, character int, newName string) (*protocol.WorkspaceEdit, error) {
	if err := c.OpenFile(ctx, path); err != nil {
		return nil, err
	}

	params := protocol.RenameParams{
		TextDocumentPositionParams: positionParams(path, line, character),
		NewName:                    newName,
	}
	var edit protocol.WorkspaceEdit
	if err := c.call(ctx, protocol.MethodTextDocumentRename, params, &edit); err != nil {
		return nil, fmt.Errorf("rename request: %w", err)
	}
	return &edit, nil
}

// documentDiagnosticParams and fullDocumentDiagnosticReport cover the 3.17
// pull-diagnostics request, which predates the protocol package's types.
type documentDiagnosticParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
}

type fullDocumentDiagnosticReport struct {
	Kind  string                `json:"kind"`
	Items []protocol.Diagnostic `json:"items"`
}

// Diagnostics returns diagnostics for the path. It prefers the pull-based
// request and falls back to the most recent push notification cached for the
// document. A timeout during the server's warmup window is surfaced as
// StillInitializingError so callers know to retry rather than give up.
func (c *Client) Diagnostics(ctx context.Context, path string) ([]protocol.Diagnostic, error) {
	if err := c.OpenFile(ctx, path); err != nil {
		return nil, err
	}

	docURI := uri.File(path)
	params := documentDiagnosticParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}
	var report fullDocumentDiagnosticReport
	err := c.call(ctx, "textDocument/diagnostic", params, &report)
	if err == nil {
		return report.Items, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		c.mu.Lock()
		warmingUp := time.Since(c.initializedAt) < initializationWarmup
		c.mu.Unlock()
		if warmingUp {
			return nil, &StillInitializingError{ServerID: c.spec.ID}
		}
	}

	c.logger.Debug("pull diagnostics failed, using cached push diagnostics", "error", err)
	c.mu.Lock()
	cached := append([]protocol.Diagnostic(nil), c.diagnostics[docURI]...)
	c.mu.Unlock()
	return cached, nil
}

// IsAlive reports whether the process is running and the connection is open.
func (c *Client) IsAlive() bool {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped || c.proc == nil || c.proc.Exited() {
		return false
	}
	select {
	case <-c.conn.Done():
		return false
	default:
		return true
	}
}

// Stop shuts the server down: graceful shutdown request and exit notification
// first, then an unconditional kill. Failures in the graceful path never
// prevent the kill. Idempotent.
func (c *Client) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()

		if c.conn != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := c.call(shutdownCtx, protocol.MethodShutdown, nil, nil); err != nil {
				c.logger.Debug("shutdown request failed", "error", err)
			}
			if err := c.conn.Notify(shutdownCtx, protocol.MethodExit, nil); err != nil {
				c.logger.Debug("exit notification failed", "error", err)
			}
			cancel()
			if err := c.conn.Close(); err != nil {
				c.logger.Debug("closing connection", "error", err)
			}
		}
		if c.proc != nil {
			c.proc.Close()
			c.proc.Kill()
		}
		c.logger.Debug("language server stopped", "workspace", c.workspaceRoot)
	})
	return nil
}

// call issues a request with the configured timeout applied. A failure after
// the server process died is annotated with its exit state and recent stderr,
// which carry the actual reason (crash output, OOM, bad flags).
func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timings.RequestTimeout)
	defer cancel()
	_, err := c.conn.Call(ctx, method, params, result)
	if err != nil && c.proc != nil {
		return exitDetail(err, c.proc)
	}
	return err
}

// exitDetail annotates a request error with the dead server's exit code and
// retained stderr. Errors from a still-running server pass through untouched.
func exitDetail(err error, p *process) error {
	if !p.Exited() {
		return err
	}
	if stderr := p.RecentStderr(); stderr != "" {
		return fmt.Errorf("%w (server exited with code %d)\nstderr: %s", err, p.ExitCode(), stderr)
	}
	return fmt.Errorf("%w (server exited with code %d)", err, p.ExitCode())
}

// handle answers server-initiated traffic. This client is not interactively
// configurable, so configuration pulls and capability registrations get
// null/empty acknowledgments; diagnostics pushes update the local cache.
func (c *Client) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	switch req.Method() {
	case protocol.MethodTextDocumentPublishDiagnostics:
		var params protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			c.logger.Warn("malformed publishDiagnostics", "error", err)
			return reply(ctx, nil, nil)
		}
		c.mu.Lock()
		c.diagnostics[params.URI] = params.Diagnostics
		c.mu.Unlock()
		return reply(ctx, nil, nil)

	case protocol.MethodWorkspaceConfiguration:
		var params protocol.ConfigurationParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, []interface{}{}, nil)
		}
		return reply(ctx, make([]interface{}, len(params.Items)), nil)

	case protocol.MethodClientRegisterCapability, protocol.MethodWorkDoneProgressCreate:
		return reply(ctx, nil, nil)

	case protocol.MethodWindowLogMessage, protocol.MethodWindowShowMessage, "$/progress":
		return reply(ctx, nil, nil)

	default:
		if _, ok := req.(*jsonrpc2.Call); ok {
			return reply(ctx, nil, jsonrpc2.ErrMethodNotFound)
		}
		return reply(ctx, nil, nil)
	}
}

func positionParams(path string, line, character int) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri.File(path)},
		Position: protocol.Position{
			Line:      uint32(line - 1),
			Character: uint32(character),
		},
	}
}
