// ABOUTME: HTTP client for the external agent runtime that hosts background sessions.
// ABOUTME: The poller treats this API as the sole source of truth for remote task progress.

package sessionhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/coven-plugin/internal/config"
)

// StatusIdle is the status type reported for a session with no work in
// flight. Every other type is a busy variant.
const StatusIdle = "idle"

// Session identifies one remote agent session.
type Session struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// SessionStatus is one entry of the runtime's session status map.
type SessionStatus struct {
	Type string `json:"type"`
}

// Idle reports whether the session has no work in flight.
func (s SessionStatus) Idle() bool { return s.Type == StatusIdle }

// MessagePart is one fragment of a message. Text carries content for
// "text" and "reasoning" typed parts.
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageInfo carries message metadata.
type MessageInfo struct {
	Role string `json:"role"`
}

// Message is one entry of a session's ordered message list.
type Message struct {
	Info  MessageInfo   `json:"info"`
	Parts []MessagePart `json:"parts"`
}

// PromptRequest submits work to a session. Agent and Variant are passed
// through from host configuration untouched.
type PromptRequest struct {
	Agent   string        `json:"agent,omitempty"`
	Variant string        `json:"variant,omitempty"`
	Parts   []MessagePart `json:"parts"`
}

// HostError is a typed failure from the session host: a non-2xx response, an
// explicit error field in the envelope, or a missing data payload.
type HostError struct {
	Status  int
	Message string
}

func (e *HostError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("session host: %s (status %d)", e.Message, e.Status)
	}
	return "session host: " + e.Message
}

// Client talks to the session host over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New constructs a session host client from config.
func New(cfg config.SessionHostConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger.With("component", "sessionhost"),
	}
}

// CreateSession creates a new remote session.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	var session Session
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/session", body, &session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &session, nil
}

// GetSession fetches one session by id.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/session/"+id, nil, &session); err != nil {
		return nil, fmt.Errorf("fetching session %s: %w", id, err)
	}
	return &session, nil
}

// Status returns the runtime's full session status map. Sessions absent from
// the map are treated as idle by callers.
func (c *Client) Status(ctx context.Context) (map[string]SessionStatus, error) {
	var statuses map[string]SessionStatus
	if err := c.do(ctx, http.MethodGet, "/session/status", nil, &statuses); err != nil {
		return nil, fmt.Errorf("fetching session status: %w", err)
	}
	return statuses, nil
}

// Messages returns the ordered message list of a session.
func (c *Client) Messages(ctx context.Context, id string) ([]Message, error) {
	var messages []Message
	if err := c.do(ctx, http.MethodGet, "/session/"+id+"/message", nil, &messages); err != nil {
		return nil, fmt.Errorf("fetching messages for %s: %w", id, err)
	}
	return messages, nil
}

// Prompt submits a prompt to a session. The call returns once the runtime has
// accepted the prompt; completion is observed by polling Status and Messages.
func (c *Client) Prompt(ctx context.Context, id string, req PromptRequest) error {
	if err := c.do(ctx, http.MethodPost, "/session/"+id+"/message", req, nil); err != nil {
		return fmt.Errorf("prompting session %s: %w", id, err)
	}
	return nil
}

// envelope is the host's response wrapper: exactly one of Data or Error is
// set on a well-formed response.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("session host request failed", "method", method, "path", path, "status", resp.StatusCode)
		return &HostError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &HostError{Message: "malformed response: " + err.Error()}
	}
	if env.Error != nil {
		return &HostError{Message: env.Error.Message}
	}
	if result == nil {
		return nil
	}
	if env.Data == nil {
		return &HostError{Message: "response missing data"}
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return &HostError{Message: "decoding data: " + err.Error()}
	}
	return nil
}
