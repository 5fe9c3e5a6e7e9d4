package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes every transition inside this process
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return persistErr("ping", db.conn.PingContext(ctx))
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL,
		priority INTEGER NOT NULL CHECK (priority BETWEEN 1 AND 5),
		tags TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'queued',
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		execution_result TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	-- At most one task may hold the execution slot
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_single_in_progress
		ON tasks(status) WHERE status = 'in_progress';

	CREATE TABLE IF NOT EXISTS execution_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		task_id TEXT NOT NULL,
		task_description TEXT NOT NULL,
		response_length INTEGER NOT NULL,
		response_preview TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_execution_log_task_id ON execution_log(task_id);

	-- The audit log is append-only
	CREATE TRIGGER IF NOT EXISTS execution_log_no_update
		BEFORE UPDATE ON execution_log
		BEGIN SELECT RAISE(ABORT, 'execution_log is append-only'); END;

	CREATE TRIGGER IF NOT EXISTS execution_log_no_delete
		BEFORE DELETE ON execution_log
		BEGIN SELECT RAISE(ABORT, 'execution_log is append-only'); END;
	`

	_, err := db.conn.Exec(schema)
	return err
}

const taskColumns = `seq, id, description, priority, tags, status, retry_count, created_at, updated_at, started_at, finished_at, execution_result`

func scanTask(scan func(dest ...any) error) (*Task, error) {
	task := &Task{}
	var tags string
	var result sql.NullString
	err := scan(&task.Seq, &task.ID, &task.Description, &task.Priority, &tags, &task.Status, &task.RetryCount,
		&task.CreatedAt, &task.UpdatedAt, &task.StartedAt, &task.FinishedAt, &result)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &task.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for %s: %w", task.ID, err)
	}
	if result.Valid && result.String != "" {
		task.ExecutionResult = &ExecutionOutcome{}
		if err := json.Unmarshal([]byte(result.String), task.ExecutionResult); err != nil {
			return nil, fmt.Errorf("failed to decode execution result for %s: %w", task.ID, err)
		}
	}
	return task, nil
}

func getTask(ctx context.Context, q querier, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &TaskNotFoundError{TaskID: id}
	}
	if err != nil {
		return nil, persistErr("get task", err)
	}
	return task, nil
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]*Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func newTaskID() string {
	return "tsk_" + ulid.Make().String()
}

// Enqueue validates and persists a new task in the queued state
func (db *DB) Enqueue(ctx context.Context, description string, priority int, tags []string) (*Task, error) {
	description, tags, err := validateEnqueue(description, priority, tags)
	if err != nil {
		return nil, err
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, persistErr("encode tags", err)
	}

	now := db.now()
	task := &Task{
		ID:          newTaskID(),
		Description: description,
		Priority:    priority,
		Tags:        tags,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, description, priority, tags, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, task.ID, task.Description, task.Priority, string(tagsJSON), task.Status, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, persistErr("enqueue", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return nil, persistErr("enqueue", err)
	}
	task.Seq = seq
	return task, nil
}

// GetTask retrieves a task by ID
func (db *DB) GetTask(ctx context.Context, id string) (*Task, error) {
	return getTask(ctx, db.conn, id)
}

// ListTasks retrieves tasks newest first, optionally filtered by status
func (db *DB) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	tasks, err := queryTasks(ctx, db.conn, query, args...)
	if err != nil {
		return nil, persistErr("list tasks", err)
	}
	return tasks, nil
}

// ByStatus retrieves every task in the given status, oldest first
func (db *DB) ByStatus(ctx context.Context, status Status) ([]*Task, error) {
	tasks, err := queryTasks(ctx, db.conn, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY seq ASC`, status)
	if err != nil {
		return nil, persistErr("list tasks by status", err)
	}
	return tasks, nil
}

// CountByStatus returns the number of tasks in the given status
func (db *DB) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, persistErr("count tasks", err)
	}
	return n, nil
}

// Stats summarizes task counts. Completed today is measured from local midnight of now.
func (db *DB) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, persistErr("stats", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, persistErr("stats", err)
		}
		switch status {
		case StatusQueued:
			stats.Queued = n
		case StatusInProgress:
			stats.InProgress = n
		case StatusCompleted:
			stats.Completed = n
		case StatusFailed:
			stats.Failed = n
		}
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("stats", err)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC()
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = ? AND finished_at >= ?`, StatusCompleted, midnight,
	).Scan(&stats.CompletedToday)
	if err != nil {
		return nil, persistErr("stats", err)
	}
	return stats, nil
}

// MarkInProgress moves a queued task into the single execution slot
func (db *DB) MarkInProgress(ctx context.Context, id string) (*Task, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin mark in progress", err)
	}
	defer tx.Rollback()

	now := db.now()
	result, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusInProgress, now, now, id, StatusQueued)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyInProgress
		}
		return nil, persistErr("mark in progress", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, persistErr("mark in progress", err)
	}
	if affected == 0 {
		if _, err := getTask(ctx, tx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotQueued
	}

	task, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit mark in progress", err)
	}
	return task, nil
}

// MarkCompleted records the outcome and log entry, then moves the task to completed.
// The status change and its records commit together.
func (db *DB) MarkCompleted(ctx context.Context, id string, outcome *ExecutionOutcome, entry *LogEntry) (*Task, error) {
	return db.finish(ctx, "mark completed", id, outcome, entry, func(task *Task) {
		task.Status = StatusCompleted
	})
}

// MarkFailed records a failed attempt. While retry_count is below maxRetries the task is
// requeued with retry_count incremented; otherwise it becomes failed.
func (db *DB) MarkFailed(ctx context.Context, id string, outcome *ExecutionOutcome, entry *LogEntry, maxRetries int) (*Task, error) {
	return db.finish(ctx, "mark failed", id, outcome, entry, func(task *Task) {
		applyFailure(task, maxRetries)
	})
}

func applyFailure(task *Task, maxRetries int) {
	if task.RetryCount < maxRetries {
		task.RetryCount++
		task.Status = StatusQueued
		return
	}
	task.Status = StatusFailed
}

func (db *DB) finish(ctx context.Context, op, id string, outcome *ExecutionOutcome, entry *LogEntry, transition func(*Task)) (*Task, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin "+op, err)
	}
	defer tx.Rollback()

	task, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}

	if err := db.finishLocked(ctx, tx, op, task, outcome, entry, transition); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit "+op, err)
	}
	return task, nil
}

func (db *DB) finishLocked(ctx context.Context, tx *sql.Tx, op string, task *Task, outcome *ExecutionOutcome, entry *LogEntry, transition func(*Task)) error {
	var resultJSON []byte
	if outcome != nil {
		var err error
		if resultJSON, err = json.Marshal(outcome); err != nil {
			return persistErr("encode execution result", err)
		}
	}

	now := db.now()
	transition(task)
	task.ExecutionResult = outcome
	task.UpdatedAt = now
	if task.Status.IsTerminal() {
		task.FinishedAt = &now
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, retry_count = ?, execution_result = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, task.Status, task.RetryCount, nullableString(resultJSON), task.UpdatedAt, task.FinishedAt, task.ID)
	if err != nil {
		return persistErr(op, err)
	}

	if entry != nil {
		if err := appendLogEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileInterrupted routes every task left in_progress by a previous process through the
// failure transition, so the execution slot is free before the loop starts
func (db *DB) ReconcileInterrupted(ctx context.Context, maxRetries int) ([]*Task, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin reconcile", err)
	}
	defer tx.Rollback()

	stale, err := queryTasks(ctx, tx, `SELECT `+taskColumns+` FROM tasks WHERE status = ?`, StatusInProgress)
	if err != nil {
		return nil, persistErr("reconcile", err)
	}

	for _, task := range stale {
		outcome := &ExecutionOutcome{
			Attempt:       task.Attempt(),
			Succeeded:     false,
			ActionResults: []ActionResult{},
			FailureReason: InterruptedReason,
			Timestamp:     db.now(),
		}
		if task.StartedAt != nil {
			outcome.DurationMs = outcome.Timestamp.Sub(*task.StartedAt).Milliseconds()
		}
		if err := db.finishLocked(ctx, tx, "reconcile", task, outcome, nil, func(t *Task) {
			applyFailure(t, maxRetries)
		}); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit reconcile", err)
	}
	return stale, nil
}

// InterruptedReason is the failure reason recorded for tasks found in_progress at startup
const InterruptedReason = "interrupted: process restarted during execution"

// DeleteQueued removes a task that has not been dispatched yet
func (db *DB) DeleteQueued(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND status = ?`, id, StatusQueued)
	if err != nil {
		return persistErr("delete task", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistErr("delete task", err)
	}
	if affected == 0 {
		if _, err := db.GetTask(ctx, id); err != nil {
			return err
		}
		return ErrNotQueued
	}
	return nil
}

// AppendLogEntry adds a record to the execution log
func (db *DB) AppendLogEntry(ctx context.Context, entry *LogEntry) error {
	return appendLogEntry(ctx, db.conn, entry)
}

func appendLogEntry(ctx context.Context, q querier, entry *LogEntry) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO execution_log (timestamp, task_id, task_description, response_length, response_preview)
		VALUES (?, ?, ?, ?, ?)
	`, entry.Timestamp.UTC(), entry.TaskID, entry.TaskDescription, entry.ResponseLength, entry.ResponsePreview)
	if err != nil {
		return persistErr("append log entry", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return persistErr("append log entry", err)
	}
	entry.ID = id
	return nil
}

// ListLogEntries retrieves execution log records oldest first. With a limit, the most
// recent entries are returned, still in ascending order.
func (db *DB) ListLogEntries(ctx context.Context, filter LogFilter) ([]*LogEntry, error) {
	query := `SELECT seq, timestamp, task_id, task_description, response_length, response_preview FROM execution_log`
	var args []any
	if filter.TaskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, filter.TaskID)
	}
	query += ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list log entries", err)
	}
	defer rows.Close()

	entries := []*LogEntry{}
	for rows.Next() {
		entry := &LogEntry{}
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.TaskID, &entry.TaskDescription, &entry.ResponseLength, &entry.ResponsePreview); err != nil {
			return nil, persistErr("list log entries", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list log entries", err)
	}

	// Reverse into ascending order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
