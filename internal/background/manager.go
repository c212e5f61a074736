// ABOUTME: Background task manager: launches remote agent tasks and tracks them to completion.
// ABOUTME: Owns the task registry, cancellation, blocking waits, and retention-based archiving.

package background

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-plugin/internal/config"
	"github.com/2389/coven-plugin/internal/sessionhost"
)

// Host is the slice of the session host API the manager needs. Satisfied by
// *sessionhost.Client.
type Host interface {
	CreateSession(ctx context.Context, title string) (*sessionhost.Session, error)
	Status(ctx context.Context) (map[string]sessionhost.SessionStatus, error)
	Messages(ctx context.Context, id string) ([]sessionhost.Message, error)
	Prompt(ctx context.Context, id string, req sessionhost.PromptRequest) error
}

// Archiver persists terminal tasks before the retention sweep drops them from
// the in-memory registry.
type Archiver interface {
	ArchiveTask(ctx context.Context, t Task) error
}

// LaunchRequest describes one task to start. SessionID resumes an existing
// remote session; empty creates a fresh one. Description titles the session;
// when empty the prompt's first line is used.
type LaunchRequest struct {
	Prompt      string
	Description string
	SessionID   string
	Agent       string
	Variant     string
}

type tracked struct {
	task   Task
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager launches background tasks and polls the session host until each one
// reaches a terminal state.
type Manager struct {
	host    Host
	cfg     config.BackgroundConfig
	archive Archiver
	logger  *slog.Logger

	mu    sync.Mutex
	tasks map[string]*tracked

	// test hook
	now func() time.Time
}

// NewManager constructs the manager. archive may be nil to disable history.
func NewManager(host Host, cfg config.BackgroundConfig, archive Archiver, logger *slog.Logger) *Manager {
	return &Manager{
		host:    host,
		cfg:     cfg,
		archive: archive,
		logger:  logger.With("component", "background"),
		tasks:   make(map[string]*tracked),
		now:     time.Now,
	}
}

// Launch submits the prompt to the session host and starts a poller goroutine
// that tracks the task to completion. The returned snapshot has the task
// already in the running state; the poller's context is independent of ctx so
// the task outlives the tool call that started it.
func (m *Manager) Launch(ctx context.Context, req LaunchRequest) (Task, error) {
	m.sweep(ctx)

	sessionID := req.SessionID
	if sessionID == "" {
		title := req.Description
		if title == "" {
			title = summarize(req.Prompt)
		}
		session, err := m.host.CreateSession(ctx, title)
		if err != nil {
			return Task{}, fmt.Errorf("launching background task: %w", err)
		}
		sessionID = session.ID
	}

	promptReq := sessionhost.PromptRequest{
		Agent:   req.Agent,
		Variant: req.Variant,
		Parts:   []sessionhost.MessagePart{{Type: "text", Text: req.Prompt}},
	}
	if err := m.host.Prompt(ctx, sessionID, promptReq); err != nil {
		return Task{}, fmt.Errorf("launching background task: %w", err)
	}

	task := Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Prompt:    req.Prompt,
		Status:    StatusRunning,
		StartedAt: m.now(),
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	tr := &tracked{task: task, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.tasks[task.ID] = tr
	m.mu.Unlock()

	m.logger.Info("background task launched", "task_id", task.ID, "session_id", sessionID)
	go m.poll(pollCtx, task.ID, sessionID)

	return task, nil
}

// Get returns a snapshot of one task.
func (m *Manager) Get(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return tr.task, true
}

// List returns snapshots of all tracked tasks.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, tr := range m.tasks {
		out = append(out, tr.task)
	}
	return out
}

// Wait blocks until the task reaches a terminal state or ctx is done. The
// task keeps running if the wait is abandoned.
func (m *Manager) Wait(ctx context.Context, id string) (Task, error) {
	m.mu.Lock()
	tr, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Task{}, fmt.Errorf("no background task %q", id)
	}

	select {
	case <-tr.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return tr.task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// Cancel aborts one task. Returns false when the task is unknown or already
// terminal. The task transitions to failed asynchronously.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.tasks[id]
	if !ok || tr.task.Terminal() {
		return false
	}
	tr.cancel()
	return true
}

// CancelAll aborts every non-terminal task and returns the exact number of
// tasks it cancelled.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, tr := range m.tasks {
		if tr.task.Terminal() {
			continue
		}
		tr.cancel()
		n++
	}
	return n
}

// Shutdown cancels all running tasks and archives everything terminal.
func (m *Manager) Shutdown(ctx context.Context) {
	m.CancelAll()
	m.mu.Lock()
	var terminal []Task
	for id, tr := range m.tasks {
		if tr.task.Terminal() {
			terminal = append(terminal, tr.task)
			delete(m.tasks, id)
		}
	}
	m.mu.Unlock()
	m.archiveTasks(ctx, terminal)
}

// finish records a task's terminal state and wakes waiters. No-op when the
// task already finished, so a cancel racing completion keeps the first result.
func (m *Manager) finish(id string, status Status, result, errMsg string) {
	m.mu.Lock()
	tr, ok := m.tasks[id]
	if !ok || tr.task.Terminal() {
		m.mu.Unlock()
		return
	}
	tr.task.Status = status
	tr.task.Result = result
	tr.task.Error = errMsg
	tr.task.CompletedAt = m.now()
	task := tr.task
	close(tr.done)
	m.mu.Unlock()

	m.logger.Info("background task finished",
		"task_id", task.ID,
		"session_id", task.SessionID,
		"status", string(status),
		"duration", task.CompletedAt.Sub(task.StartedAt))
}

// sweep archives and drops terminal tasks older than the retention window.
func (m *Manager) sweep(ctx context.Context) {
	cutoff := m.now().Add(-m.cfg.Retention)

	m.mu.Lock()
	var expired []Task
	for id, tr := range m.tasks {
		if tr.task.Terminal() && tr.task.CompletedAt.Before(cutoff) {
			expired = append(expired, tr.task)
			delete(m.tasks, id)
		}
	}
	m.mu.Unlock()

	m.archiveTasks(ctx, expired)
}

func (m *Manager) archiveTasks(ctx context.Context, tasks []Task) {
	if m.archive == nil {
		return
	}
	for _, task := range tasks {
		if err := m.archive.ArchiveTask(ctx, task); err != nil {
			m.logger.Warn("archiving task failed", "task_id", task.ID, "error", err)
		}
	}
}

// summarize derives a short session title from a prompt.
func summarize(prompt string) string {
	const maxTitle = 80
	title, _, _ := strings.Cut(prompt, "\n")
	if len(title) > maxTitle {
		title = title[:maxTitle]
	}
	return title
}
