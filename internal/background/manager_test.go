// ABOUTME: Tests for the background task manager and its session poll loop.

package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-plugin/internal/config"
	"github.com/2389/coven-plugin/internal/sessionhost"
)

// fakeHost scripts the session host: statuses and message lists are consumed
// one per poll tick, with the last entry repeating.
type fakeHost struct {
	mu        sync.Mutex
	statuses  []string
	messages  [][]sessionhost.Message
	statusErr error
	promptErr error

	created  int
	msgCalls int
	prompts  []sessionhost.PromptRequest
}

func (f *fakeHost) CreateSession(ctx context.Context, title string) (*sessionhost.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &sessionhost.Session{ID: fmt.Sprintf("ses_%d", f.created), Title: title}, nil
}

func (f *fakeHost) Status(ctx context.Context) (map[string]sessionhost.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status := "idle"
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	statuses := map[string]sessionhost.SessionStatus{"ses_1": {Type: status}}
	for i := 2; i <= f.created; i++ {
		statuses[fmt.Sprintf("ses_%d", i)] = sessionhost.SessionStatus{Type: status}
	}
	return statuses, nil
}

func (f *fakeHost) Messages(ctx context.Context, id string) ([]sessionhost.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCalls++
	if len(f.messages) == 0 {
		return nil, nil
	}
	msgs := f.messages[0]
	if len(f.messages) > 1 {
		f.messages = f.messages[1:]
	}
	return msgs, nil
}

func (f *fakeHost) Prompt(ctx context.Context, id string, req sessionhost.PromptRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promptErr != nil {
		return f.promptErr
	}
	f.prompts = append(f.prompts, req)
	return nil
}

func assistantMsg(texts ...string) sessionhost.Message {
	msg := sessionhost.Message{Info: sessionhost.MessageInfo{Role: "assistant"}}
	for _, text := range texts {
		msg.Parts = append(msg.Parts, sessionhost.MessagePart{Type: "text", Text: text})
	}
	return msg
}

func userMsg(text string) sessionhost.Message {
	return sessionhost.Message{
		Info:  sessionhost.MessageInfo{Role: "user"},
		Parts: []sessionhost.MessagePart{{Type: "text", Text: text}},
	}
}

func testManager(host Host) *Manager {
	return NewManager(host, config.BackgroundConfig{
		PollInterval:    time.Millisecond,
		PollTimeout:     time.Second,
		StableThreshold: 3,
		Retention:       time.Hour,
	}, nil, slog.Default())
}

func TestTaskCompletesOnStableMessageCount(t *testing.T) {
	conversation := []sessionhost.Message{
		userMsg("do the thing"),
		assistantMsg("done it"),
	}
	host := &fakeHost{
		statuses: []string{"building", "building", "idle"},
		messages: [][]sessionhost.Message{
			{conversation[0]},
			conversation,
		},
	}

	m := testManager(host)
	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "do the thing"})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)
	assert.Equal(t, "ses_1", task.SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "done it", final.Result)
	assert.False(t, final.CompletedAt.IsZero())
}

func TestBusyStatusResetsStability(t *testing.T) {
	// Idle for two ticks, busy for one, then idle again: the busy tick must
	// reset the counter so the early idle ticks cannot complete the task
	// against the stale message list.
	host := &fakeHost{
		statuses: []string{"idle", "idle", "building", "idle"},
		messages: [][]sessionhost.Message{
			{userMsg("q")},
			{userMsg("q")},
			{userMsg("q"), assistantMsg("late answer")},
		},
	}

	m := testManager(host)
	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "q"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "late answer", final.Result)
}

func TestZeroCountKeepsPollingUntilCeiling(t *testing.T) {
	// Idle status with a permanently empty message list means the runtime
	// never registered the prompt. That must run to the poll ceiling, not
	// fail early with an empty extraction.
	host := &fakeHost{}
	m := NewManager(host, config.BackgroundConfig{
		PollInterval:    time.Millisecond,
		PollTimeout:     20 * time.Millisecond,
		StableThreshold: 3,
		Retention:       time.Hour,
	}, nil, slog.Default())

	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "timed out")

	host.mu.Lock()
	defer host.mu.Unlock()
	assert.Greater(t, host.msgCalls, 3, "poller gave up before the ceiling")
}

func TestStabilityRequiresFullThreshold(t *testing.T) {
	// Count sequence 0,0,1,1,1,...: completion requires three consecutive
	// ticks at the same non-zero count, so the zero ticks contribute nothing
	// and the first repeat of 1 is not enough.
	host := &fakeHost{
		messages: [][]sessionhost.Message{
			{},
			{},
			{assistantMsg("answer")},
		},
	}

	m := testManager(host)
	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "answer", final.Result)

	// Two zero ticks plus three stable non-zero ticks before completion.
	host.mu.Lock()
	defer host.mu.Unlock()
	assert.GreaterOrEqual(t, host.msgCalls, 5)
}

func TestAbortBeatsTimeout(t *testing.T) {
	// The ceiling has already passed when the first tick fires, but the task
	// is cancelled before that tick: the outcome must be the cancellation.
	host := &fakeHost{}
	m := NewManager(host, config.BackgroundConfig{
		PollInterval:    50 * time.Millisecond,
		PollTimeout:     time.Nanosecond,
		StableThreshold: 3,
		Retention:       time.Hour,
	}, nil, slog.Default())

	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p"})
	require.NoError(t, err)
	require.True(t, m.Cancel(task.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, "Cancelled by user", final.Error)
	assert.NotContains(t, final.Error, "timed out")
}

func TestResumeSkipsSessionCreation(t *testing.T) {
	host := &fakeHost{
		messages: [][]sessionhost.Message{{userMsg("more"), assistantMsg("ok")}},
	}

	m := testManager(host)
	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "more", SessionID: "ses_1"})
	require.NoError(t, err)
	assert.Equal(t, "ses_1", task.SessionID)
	assert.Zero(t, host.created)
}

func TestVariantPassedThrough(t *testing.T) {
	host := &fakeHost{
		messages: [][]sessionhost.Message{{assistantMsg("ok")}},
	}

	m := testManager(host)
	_, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p", Agent: "coder", Variant: "high-effort"})
	require.NoError(t, err)

	require.Len(t, host.prompts, 1)
	assert.Equal(t, "coder", host.prompts[0].Agent)
	assert.Equal(t, "high-effort", host.prompts[0].Variant)
}

func TestPromptFailureSurfacesAtLaunch(t *testing.T) {
	host := &fakeHost{promptErr: errors.New("session host: overloaded")}

	m := testManager(host)
	_, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
	assert.Empty(t, m.List())
}

func TestHostErrorFailsTask(t *testing.T) {
	host := &fakeHost{statuses: []string{"building"}}

	m := testManager(host)
	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p"})
	require.NoError(t, err)

	host.mu.Lock()
	host.statusErr = errors.New("connection refused")
	host.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "connection refused")
}

func TestPollCeilingFailsTask(t *testing.T) {
	// Message count keeps climbing, so stability never triggers and the
	// ceiling is the only way out.
	host := &fakeHost{}
	m := NewManager(host, config.BackgroundConfig{
		PollInterval:    time.Millisecond,
		PollTimeout:     20 * time.Millisecond,
		StableThreshold: 3,
		Retention:       time.Hour,
	}, nil, slog.Default())
	grow := 0
	m.host = hostFunc{fakeHost: host, messages: func() []sessionhost.Message {
		grow++
		msgs := make([]sessionhost.Message, grow)
		return msgs
	}}

	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "timed out")
}

// hostFunc overrides Messages with a generator.
type hostFunc struct {
	*fakeHost
	messages func() []sessionhost.Message
}

func (h hostFunc) Messages(ctx context.Context, id string) ([]sessionhost.Message, error) {
	return h.messages(), nil
}

func TestCancelBeatsEverything(t *testing.T) {
	host := &fakeHost{statuses: []string{"building"}}

	m := testManager(host)
	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p"})
	require.NoError(t, err)

	require.True(t, m.Cancel(task.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, "Cancelled by user", final.Error)

	// Terminal tasks cannot be cancelled again.
	assert.False(t, m.Cancel(task.ID))
	assert.False(t, m.Cancel("nope"))
}

func TestCancelAllCountsOnlyRunning(t *testing.T) {
	host := &fakeHost{statuses: []string{"building"}}

	m := testManager(host)
	t1, err := m.Launch(context.Background(), LaunchRequest{Prompt: "a"})
	require.NoError(t, err)
	t2, err := m.Launch(context.Background(), LaunchRequest{Prompt: "b"})
	require.NoError(t, err)

	require.True(t, m.Cancel(t1.ID))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = m.Wait(ctx, t1.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, m.CancelAll())
	_, err = m.Wait(ctx, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, m.CancelAll())
}

func TestExtractResultJoinsPartsAcrossMessages(t *testing.T) {
	messages := []sessionhost.Message{
		userMsg("q"),
		{
			Info: sessionhost.MessageInfo{Role: "assistant"},
			Parts: []sessionhost.MessagePart{
				{Type: "reasoning", Text: "A"},
				{Type: "text", Text: "B"},
				{Type: "tool-call", Text: "ignored"},
			},
		},
		{
			Info: sessionhost.MessageInfo{Role: "assistant"},
			Parts: []sessionhost.MessagePart{
				{Type: "text", Text: "C"},
				{Type: "text", Text: ""},
			},
		},
	}

	result, err := extractResult(messages)
	require.NoError(t, err)
	assert.Equal(t, "A\n\nB\n\nC", result)
}

func TestExtractResultPreservesPartWhitespace(t *testing.T) {
	messages := []sessionhost.Message{
		userMsg("show me the diff"),
		{
			Info: sessionhost.MessageInfo{Role: "assistant"},
			Parts: []sessionhost.MessagePart{
				{Type: "text", Text: "    if ok {\n        return nil\n    }\n"},
				{Type: "text", Text: "   \n\t"},
				{Type: "text", Text: "done"},
			},
		},
	}

	result, err := extractResult(messages)
	require.NoError(t, err)
	assert.Equal(t, "    if ok {\n        return nil\n    }\n\n\ndone", result)
}

func TestExtractResultIgnoresEarlierTurns(t *testing.T) {
	messages := []sessionhost.Message{
		userMsg("first question"),
		assistantMsg("first answer"),
		userMsg("second question"),
		assistantMsg("second answer"),
	}

	result, err := extractResult(messages)
	require.NoError(t, err)
	assert.Equal(t, "second answer", result)
}

func TestExtractResultSkipsEmptyAssistant(t *testing.T) {
	messages := []sessionhost.Message{
		userMsg("q"),
		assistantMsg("real answer"),
		{Info: sessionhost.MessageInfo{Role: "assistant"}},
	}

	result, err := extractResult(messages)
	require.NoError(t, err)
	assert.Equal(t, "real answer", result)
}

func TestExtractResultNoAssistant(t *testing.T) {
	_, err := extractResult([]sessionhost.Message{userMsg("q")})
	require.ErrorIs(t, err, errNoResponse)
}

type recordingArchive struct {
	mu    sync.Mutex
	tasks []Task
}

func (a *recordingArchive) ArchiveTask(ctx context.Context, t Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, t)
	return nil
}

func TestRetentionSweepArchives(t *testing.T) {
	host := &fakeHost{
		messages: [][]sessionhost.Message{{assistantMsg("ok")}},
	}
	archive := &recordingArchive{}
	m := NewManager(host, config.BackgroundConfig{
		PollInterval:    time.Millisecond,
		PollTimeout:     time.Second,
		StableThreshold: 1,
		Retention:       time.Hour,
	}, archive, slog.Default())

	task, err := m.Launch(context.Background(), LaunchRequest{Prompt: "p"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = m.Wait(ctx, task.ID)
	require.NoError(t, err)

	// Within retention: the task stays queryable.
	m.sweep(context.Background())
	_, ok := m.Get(task.ID)
	assert.True(t, ok)

	// Past retention: archived and pruned.
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	m.sweep(context.Background())
	_, ok = m.Get(task.ID)
	assert.False(t, ok)
	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.tasks, 1)
	assert.Equal(t, task.ID, archive.tasks[0].ID)
}
