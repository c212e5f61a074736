// ABOUTME: Extracts the final assistant answer from a session's message list.

package background

import (
	"errors"
	"strings"

	"github.com/2389/coven-plugin/internal/sessionhost"
)

var errNoResponse = errors.New("session produced no assistant response")

// extractResult returns the assistant response that followed the last user
// message: the reasoning and text parts of every assistant message in that
// span, in order, joined with blank lines. Parts of other types and
// whitespace-only parts are dropped; kept parts are passed through verbatim
// so indentation inside code fragments survives.
func extractResult(messages []sessionhost.Message) (string, error) {
	start := 0
	for i, msg := range messages {
		if msg.Info.Role == "user" {
			start = i + 1
		}
	}

	var parts []string
	for _, msg := range messages[start:] {
		if msg.Info.Role != "assistant" {
			continue
		}
		for _, part := range msg.Parts {
			if part.Type != "text" && part.Type != "reasoning" {
				continue
			}
			if strings.TrimSpace(part.Text) == "" {
				continue
			}
			parts = append(parts, part.Text)
		}
	}
	if len(parts) == 0 {
		return "", errNoResponse
	}
	return strings.Join(parts, "\n\n"), nil
}
