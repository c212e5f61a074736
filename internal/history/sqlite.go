// ABOUTME: SQLite archive of finished background tasks using modernc.org/sqlite
// ABOUTME: Tasks land here when the retention sweep prunes them from memory

package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-plugin/internal/background"
)

// Store archives terminal background tasks to SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the archive database at the given path.
// Parent directories are created if needed.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps archive writes from blocking reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With("component", "history"),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("task history initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_session_id
			ON tasks(session_id);

		CREATE INDEX IF NOT EXISTS idx_tasks_completed_at
			ON tasks(completed_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// ArchiveTask persists one terminal task. Re-archiving the same id overwrites
// the previous row so Shutdown followed by a sweep stays idempotent.
func (s *Store) ArchiveTask(ctx context.Context, t background.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks
			(id, session_id, prompt, status, result, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Prompt, string(t.Status), t.Result, t.Error,
		t.StartedAt.UTC(), t.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("archiving task %s: %w", t.ID, err)
	}
	return nil
}

// RecentTasks returns the most recently completed tasks, newest first.
func (s *Store) RecentTasks(ctx context.Context, limit int) ([]background.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, prompt, status, result, error, started_at, completed_at
		FROM tasks ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []background.Task
	for rows.Next() {
		var t background.Task
		var status string
		var started, completed time.Time
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Prompt, &status, &t.Result, &t.Error, &started, &completed); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		t.Status = background.Status(status)
		t.StartedAt = started
		t.CompletedAt = completed
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
