package exporting

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yeti47/crop-exporter/ccc/db"
	"github.com/yeti47/crop-exporter/ccc/logging"
)

// OutboxSink is a Sink backed by a local SQLite table of export tasks.
//
// Submit inserts a pending row; the autoincrement row id is the sequence token.
// An Uploader drains pending rows and marks them delivered once the transport
// confirms, which gives at-least-once delivery across restarts. When
// maxPending is set, the oldest pending tasks are dropped to make room.
type OutboxSink struct {
	logger     logging.Logger
	db         *sql.DB
	stream     string
	bucket     string
	maxPending int
	now        func() time.Time

	notify chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewOutboxSink creates the outbox table if needed and returns the sink.
// stream names the logical export stream, so several cameras can share one database.
func NewOutboxSink(logger logging.Logger, database *sql.DB, stream, bucket string, maxPending int) (*OutboxSink, error) {
	if logger == nil {
		logger = logging.NopLogger
	}
	sink := &OutboxSink{
		logger:     logger,
		db:         database,
		stream:     stream,
		bucket:     bucket,
		maxPending: maxPending,
		now:        time.Now,
		notify:     make(chan struct{}, 1),
	}
	if err := sink.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return sink, nil
}

func (s *OutboxSink) createTables() error {
	createTasksTable := `
	CREATE TABLE IF NOT EXISTS export_tasks (
		sequence INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		stream TEXT NOT NULL,
		input_url TEXT NOT NULL,
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_export_tasks_pending ON export_tasks (stream, status, sequence);`

	_, err := s.db.Exec(createTasksTable)
	return err
}

// Submit queues the archive for delivery and returns its sequence number
func (s *OutboxSink) Submit(ctx context.Context, localFileURI, remoteKey string) (int64, error) {
	if localFileURI == "" || remoteKey == "" {
		return 0, ErrInvalidSubmission
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrSinkClosed
	}

	now := db.TimeToString(s.now())
	result, err := s.db.ExecContext(ctx, `
	INSERT INTO export_tasks (id, stream, input_url, bucket, object_key, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.stream, localFileURI, s.bucket, remoteKey, string(TaskPending), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert export task: %w", err)
	}

	sequence, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read export task sequence: %w", err)
	}

	if s.maxPending > 0 {
		if err := s.trimPending(ctx); err != nil {
			s.logger.Warn("Failed to trim export outbox", "error", err)
		}
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}

	return sequence, nil
}

// trimPending drops the oldest pending tasks beyond maxPending
func (s *OutboxSink) trimPending(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `
	DELETE FROM export_tasks
	WHERE stream = ? AND status = ? AND sequence NOT IN (
		SELECT sequence FROM export_tasks
		WHERE stream = ? AND status = ?
		ORDER BY sequence DESC LIMIT ?
	)`, s.stream, string(TaskPending), s.stream, string(TaskPending), s.maxPending)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		s.logger.Warn("Export outbox full, dropped oldest pending tasks", "dropped", n, "max_pending", s.maxPending)
	}
	return nil
}

// Pending returns up to limit pending tasks, oldest first
func (s *OutboxSink) Pending(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT sequence, id, input_url, bucket, object_key, status, attempts, last_error, created_at
	FROM export_tasks
	WHERE stream = ? AND status = ?
	ORDER BY sequence ASC LIMIT ?`, s.stream, string(TaskPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task := &Task{}
		var status, createdAt string
		if err := rows.Scan(&task.Sequence, &task.ID, &task.InputURL, &task.Bucket, &task.Key,
			&status, &task.Attempts, &task.LastError, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan export task: %w", err)
		}
		task.Status = TaskStatus(status)
		task.CreatedAt, err = db.StringToTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetBySequence returns the task with the given sequence, or nil if none exists
func (s *OutboxSink) GetBySequence(ctx context.Context, sequence int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT sequence, id, input_url, bucket, object_key, status, attempts, last_error, created_at
	FROM export_tasks WHERE sequence = ?`, sequence)

	task := &Task{}
	var status, createdAt string
	err := row.Scan(&task.Sequence, &task.ID, &task.InputURL, &task.Bucket, &task.Key,
		&status, &task.Attempts, &task.LastError, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get export task: %w", err)
	}
	task.Status = TaskStatus(status)
	task.CreatedAt, err = db.StringToTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return task, nil
}

// MarkDelivered records a confirmed delivery
func (s *OutboxSink) MarkDelivered(ctx context.Context, sequence int64) error {
	return s.updateStatus(ctx, sequence, TaskDelivered, "", true)
}

// MarkAttemptFailed records a failed delivery. Permanent failures leave the
// pending set; others stay pending for the next pass.
func (s *OutboxSink) MarkAttemptFailed(ctx context.Context, sequence int64, cause error, permanent bool) error {
	status := TaskPending
	if permanent {
		status = TaskFailed
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.updateStatus(ctx, sequence, status, msg, true)
}

func (s *OutboxSink) updateStatus(ctx context.Context, sequence int64, status TaskStatus, lastError string, countAttempt bool) error {
	increment := 0
	if countAttempt {
		increment = 1
	}
	result, err := s.db.ExecContext(ctx, `
	UPDATE export_tasks
	SET status = ?, attempts = attempts + ?, last_error = ?, updated_at = ?
	WHERE sequence = ?`,
		string(status), increment, lastError, db.TimeToString(s.now()), sequence)
	if err != nil {
		return fmt.Errorf("failed to update export task %d: %w", sequence, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("export task %d not found", sequence)
	}
	return nil
}

// Backlog returns the number of pending tasks
func (s *OutboxSink) Backlog(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM export_tasks WHERE stream = ? AND status = ?`,
		s.stream, string(TaskPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return count, nil
}

// PurgeDelivered removes delivered tasks last updated before cutoff
func (s *OutboxSink) PurgeDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM export_tasks WHERE stream = ? AND status = ? AND updated_at < ?`,
		s.stream, string(TaskDelivered), db.TimeToString(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivered tasks: %w", err)
	}
	return result.RowsAffected()
}

// Notify is signalled after each successful Submit
func (s *OutboxSink) Notify() <-chan struct{} {
	return s.notify
}

// String describes the sink for logs
func (s *OutboxSink) String() string {
	return strings.Join([]string{"outbox", s.stream}, ":")
}

// Close stops accepting submissions. The database is owned by the caller.
func (s *OutboxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
