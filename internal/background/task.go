// ABOUTME: Background task model: identity, lifecycle status, and outcome fields.

package background

import "time"

// Status is a background task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is one background agent task. A task maps 1:1 to a prompt submitted to
// a remote session; resuming a session creates a new task against the same
// session id.
type Task struct {
	ID          string
	SessionID   string
	Prompt      string
	Status      Status
	Result      string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Terminal reports whether the task has reached a final state.
func (t Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
