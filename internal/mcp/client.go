// ABOUTME: Managed MCP client: one external server, lazily connected, SDK session proxied.
// ABOUTME: Supports stdio (spawned command) and HTTP (streamable with SSE fallback) transports.

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/coven-plugin/internal/config"
)

// clientInfo identifies this plugin to the servers it connects to.
var clientInfo = &sdk.Implementation{Name: "coven-plugin", Version: "1.0.0"}

// ConnectError reports a failed connection attempt, distinguishing a spawned
// process that died immediately (stderr attached) from a network or protocol
// handshake failure.
type ConnectError struct {
	Server    string
	Transport string // "stdio" or "http"
	Stderr    string
	Err       error
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("connecting to MCP server %s (%s): %v", e.Server, e.Transport, e.Err)
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Client owns the session lifecycle for one external MCP server. The
// connection is established lazily on first use and re-established by the
// pool when the monitor observes the session die.
type Client struct {
	name   string
	spec   config.MCPServerConfig
	logger *slog.Logger

	// connectMu is held across an entire establish so concurrent holders of
	// the same pooled client never race two handshakes (and never spawn two
	// subprocesses) when the session dies under them.
	connectMu sync.Mutex

	mu        sync.Mutex
	session   *sdk.ClientSession
	stderr    *stderrBuffer
	connected bool
	stopped   bool

	stopOnce sync.Once
}

// NewClient constructs an unconnected client for one server spec.
func NewClient(name string, spec config.MCPServerConfig, logger *slog.Logger) *Client {
	return &Client{
		name:   name,
		spec:   spec,
		logger: logger.With("component", "mcp", "server", name),
	}
}

// Connect establishes the SDK session. Safe to call when already connected;
// concurrent calls are serialized onto a single handshake, with the losers
// observing the winner's session instead of connecting again.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.session != nil || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var (
		session *sdk.ClientSession
		err     error
	)
	switch c.spec.Type {
	case "", "stdio":
		session, err = c.connectStdio(ctx)
	case "http":
		session, err = c.connectHTTP(ctx)
	default:
		return fmt.Errorf("unsupported MCP transport %q for %s", c.spec.Type, c.name)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = session
	c.connected = true
	c.mu.Unlock()

	// Clear the cached session when it dies so the pool's next IsAlive
	// check replaces this client instead of issuing requests into a void.
	go func() {
		if werr := session.Wait(); werr != nil {
			c.logger.Warn("MCP session ended", "error", werr)
		}
		c.mu.Lock()
		if c.session == session {
			c.session = nil
		}
		c.mu.Unlock()
	}()

	c.logger.Debug("MCP session established")
	return nil
}

func (c *Client) connectStdio(ctx context.Context) (*sdk.ClientSession, error) {
	cmd := exec.Command(c.spec.Command, c.spec.Args...)
	if len(c.spec.Env) > 0 {
		env := os.Environ()
		for k, v := range c.spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	stderr := &stderrBuffer{}
	cmd.Stderr = stderr
	c.mu.Lock()
	c.stderr = stderr
	c.mu.Unlock()

	client := sdk.NewClient(clientInfo, nil)
	session, err := client.Connect(ctx, &sdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, &ConnectError{Server: c.name, Transport: "stdio", Stderr: stderr.String(), Err: err}
	}
	return session, nil
}

func (c *Client) connectHTTP(ctx context.Context) (*sdk.ClientSession, error) {
	// Interactive OAuth flows cannot run in a headless plugin, so an OAuth
	// server must be configured with a pre-issued token in its headers.
	if c.spec.OAuth && c.spec.Headers["Authorization"] == "" {
		return nil, fmt.Errorf("MCP server %s requires OAuth: configure a pre-issued token in headers.Authorization", c.name)
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			next:    http.DefaultTransport,
			headers: c.spec.Headers,
		},
	}
	client := sdk.NewClient(clientInfo, nil)

	// Endpoints that advertise /sse get the SSE transport directly; everything
	// else tries streamable HTTP first and falls back to SSE.
	if strings.HasSuffix(strings.TrimSuffix(c.spec.Endpoint, "/"), "/sse") {
		session, err := client.Connect(ctx, &sdk.SSEClientTransport{Endpoint: c.spec.Endpoint, HTTPClient: httpClient}, nil)
		if err != nil {
			return nil, &ConnectError{Server: c.name, Transport: "http", Err: err}
		}
		return session, nil
	}

	session, streamErr := client.Connect(ctx, &sdk.StreamableClientTransport{Endpoint: c.spec.Endpoint, HTTPClient: httpClient}, nil)
	if streamErr == nil {
		return session, nil
	}
	session, sseErr := client.Connect(ctx, &sdk.SSEClientTransport{Endpoint: c.spec.Endpoint, HTTPClient: httpClient}, nil)
	if sseErr != nil {
		return nil, &ConnectError{
			Server:    c.name,
			Transport: "http",
			Err:       fmt.Errorf("streamable: %v; sse: %w", streamErr, sseErr),
		}
	}
	return session, nil
}

// ensureSession lazily connects and returns the live session.
func (c *Client) ensureSession(ctx context.Context) (*sdk.ClientSession, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, fmt.Errorf("MCP client %s is stopped", c.name)
	}
	session := c.session
	c.mu.Unlock()
	if session != nil {
		return session, nil
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, fmt.Errorf("MCP session for %s closed during connect", c.name)
	}
	return c.session, nil
}

// ListTools proxies tools/list.
func (c *Client) ListTools(ctx context.Context) (*sdk.ListToolsResult, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return session.ListTools(ctx, &sdk.ListToolsParams{})
}

// ListResources proxies resources/list.
func (c *Client) ListResources(ctx context.Context) (*sdk.ListResourcesResult, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return session.ListResources(ctx, &sdk.ListResourcesParams{})
}

// ListPrompts proxies prompts/list.
func (c *Client) ListPrompts(ctx context.Context) (*sdk.ListPromptsResult, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return session.ListPrompts(ctx, &sdk.ListPromptsParams{})
}

// CallTool proxies tools/call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*sdk.CallToolResult, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
}

// ReadResource proxies resources/read.
func (c *Client) ReadResource(ctx context.Context, uri string) (*sdk.ReadResourceResult, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return session.ReadResource(ctx, &sdk.ReadResourceParams{URI: uri})
}

// GetPrompt proxies prompts/get.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*sdk.GetPromptResult, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return session.GetPrompt(ctx, &sdk.GetPromptParams{Name: name, Arguments: args})
}

// IsAlive reports whether the client is usable. A client that has never
// connected reports alive (the lazy connect on first use decides its fate);
// one whose session died reports dead so the pool replaces it.
func (c *Client) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	return !c.connected || c.session != nil
}

// Stop closes the session. Idempotent.
func (c *Client) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		session := c.session
		c.session = nil
		c.mu.Unlock()

		if session != nil {
			err = session.Close()
		}
		c.logger.Debug("MCP client stopped")
	})
	return err
}

// headerTransport applies the server config's static headers (API keys) to every
// outbound request.
type headerTransport struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.next.RoundTrip(req)
}
