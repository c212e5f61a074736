// ABOUTME: Tests for the session host HTTP client and its error envelope handling.

package sessionhost

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-plugin/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.SessionHostConfig{
		BaseURL:        srv.URL,
		Token:          "tok-abc",
		RequestTimeout: 5 * time.Second,
	}, slog.Default())
}

func TestCreateSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session", r.URL.Path)
		assert.Equal(t, "Bearer tok-abc", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "background task", body["title"])

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "ses_123", "title": "background task"},
		})
	})

	session, err := c.CreateSession(context.Background(), "background task")
	require.NoError(t, err)
	assert.Equal(t, "ses_123", session.ID)
}

func TestStatusMap(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"ses_1": map[string]string{"type": "idle"},
				"ses_2": map[string]string{"type": "building"},
			},
		})
	})

	statuses, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, statuses["ses_1"].Idle())
	assert.False(t, statuses["ses_2"].Idle())

	// Absent sessions decode as the zero value, which is not idle; callers
	// decide how to treat missing entries.
	_, ok := statuses["ses_3"]
	assert.False(t, ok)
}

func TestMessagesOrderedParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/ses_1/message", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []any{
				map[string]any{
					"info":  map[string]string{"role": "user"},
					"parts": []any{map[string]string{"type": "text", "text": "do the thing"}},
				},
				map[string]any{
					"info": map[string]string{"role": "assistant"},
					"parts": []any{
						map[string]string{"type": "reasoning", "text": "thinking"},
						map[string]string{"type": "text", "text": "done"},
					},
				},
			},
		})
	})

	messages, err := c.Messages(context.Background(), "ses_1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "assistant", messages[1].Info.Role)
	require.Len(t, messages[1].Parts, 2)
	assert.Equal(t, "reasoning", messages[1].Parts[0].Type)
}

func TestPromptPassesVariantThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req PromptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "high-effort", req.Variant)
		require.Len(t, req.Parts, 1)
		assert.Equal(t, "run the migration", req.Parts[0].Text)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]bool{"accepted": true}})
	})

	err := c.Prompt(context.Background(), "ses_1", PromptRequest{
		Variant: "high-effort",
		Parts:   []MessagePart{{Type: "text", Text: "run the migration"}},
	})
	require.NoError(t, err)
}

func TestExplicitErrorFieldIsTyped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "session not found"},
		})
	})

	_, err := c.GetSession(context.Background(), "ses_missing")
	require.Error(t, err)
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, "session not found", hostErr.Message)
}

func TestMissingDataIsTyped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := c.Status(context.Background())
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Contains(t, hostErr.Message, "missing data")
}

func TestNon2xxIsTyped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := c.Messages(context.Background(), "ses_1")
	var hostErr *HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, http.StatusBadGateway, hostErr.Status)
	assert.Contains(t, hostErr.Message, "upstream exploded")
}
