// ABOUTME: Tests for the task history archive.

package history

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-plugin/internal/background"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTask(id string, completed time.Time) background.Task {
	return background.Task{
		ID:          id,
		SessionID:   "ses_1",
		Prompt:      "refactor the parser",
		Status:      background.StatusCompleted,
		Result:      "done",
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: completed,
	}
}

func TestArchiveAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.ArchiveTask(ctx, sampleTask("t1", base)))
	require.NoError(t, s.ArchiveTask(ctx, sampleTask("t2", base.Add(time.Minute))))

	tasks, err := s.RecentTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t2", tasks[0].ID)
	assert.Equal(t, background.StatusCompleted, tasks[0].Status)
	assert.Equal(t, "done", tasks[0].Result)
}

func TestArchiveIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := sampleTask("t1", time.Now().UTC())

	require.NoError(t, s.ArchiveTask(ctx, task))
	task.Result = "updated"
	require.NoError(t, s.ArchiveTask(ctx, task))

	tasks, err := s.RecentTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "updated", tasks[0].Result)
}

func TestRecentTasksLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ArchiveTask(ctx, sampleTask(
			string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))))
	}

	tasks, err := s.RecentTasks(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	assert.Equal(t, "e", tasks[0].ID)
}
