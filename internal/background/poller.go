// ABOUTME: Poll loop that watches a remote session until its task settles.
// ABOUTME: Completion is message-count stability at idle, never a push event.

package background

import (
	"context"
	"fmt"
	"time"
)

// cancelledMessage is the error recorded on user-initiated aborts.
const cancelledMessage = "Cancelled by user"

// poll watches one session until the task completes, fails, is cancelled, or
// hits the poll ceiling. The host exposes no completion event, so the loop
// infers completion from the session going idle with a message count that
// holds steady for StableThreshold consecutive ticks. A busy status or a
// count change resets the stability counter, which tolerates runtimes that
// briefly report idle between tool calls.
func (m *Manager) poll(ctx context.Context, taskID, sessionID string) {
	deadline := m.now().Add(m.cfg.PollTimeout)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	lastCount := 0
	stable := 0

	for {
		select {
		case <-ctx.Done():
			m.finish(taskID, StatusFailed, "", cancelledMessage)
			return
		case <-ticker.C:
		}

		// Abort wins over every other terminal condition, including a
		// deadline that passed on the same tick.
		if ctx.Err() != nil {
			m.finish(taskID, StatusFailed, "", cancelledMessage)
			return
		}
		if m.now().After(deadline) {
			m.finish(taskID, StatusFailed, "", fmt.Sprintf("Task timed out after %s", m.cfg.PollTimeout))
			return
		}

		statuses, err := m.host.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.finish(taskID, StatusFailed, "", cancelledMessage)
				return
			}
			m.finish(taskID, StatusFailed, "", "session host unreachable: "+err.Error())
			return
		}
		if status, ok := statuses[sessionID]; ok && !status.Idle() {
			stable = 0
			continue
		}

		messages, err := m.host.Messages(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				m.finish(taskID, StatusFailed, "", cancelledMessage)
				return
			}
			m.finish(taskID, StatusFailed, "", "session host unreachable: "+err.Error())
			return
		}

		// Stability only counts once the session has messages. An idle
		// session at count zero means the runtime has not registered the
		// prompt yet; keep polling until the ceiling rather than failing
		// with an empty extraction.
		if len(messages) == 0 {
			lastCount = 0
			stable = 0
			continue
		}
		if len(messages) == lastCount {
			stable++
		} else {
			lastCount = len(messages)
			stable = 1
		}
		if stable < m.cfg.StableThreshold {
			continue
		}

		result, err := extractResult(messages)
		if err != nil {
			m.finish(taskID, StatusFailed, "", err.Error())
			return
		}
		m.finish(taskID, StatusCompleted, result, "")
		return
	}
}
