package execlog

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// PreviewLimit is the number of characters of the response kept in a log entry
const PreviewLimit = 500

// NewEntry builds the audit record for one agent exchange
func NewEntry(task *db.Task, response string, now time.Time) *db.LogEntry {
	return &db.LogEntry{
		Timestamp:       now.UTC(),
		TaskID:          task.ID,
		TaskDescription: task.Description,
		ResponseLength:  utf8.RuneCountInString(response),
		ResponsePreview: Preview(response),
	}
}

// Preview truncates s to PreviewLimit characters, marking truncation with "..."
func Preview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:PreviewLimit]) + "..."
}

// Source is where log entries are read from
type Source interface {
	ListLogEntries(ctx context.Context, filter db.LogFilter) ([]*db.LogEntry, error)
}

// Recorder gives observers ordered read access to the execution log
type Recorder struct {
	src Source
}

// NewRecorder creates a recorder over the store
func NewRecorder(src Source) *Recorder {
	return &Recorder{src: src}
}

// List returns the most recent entries in chronological order. A limit of 0 returns all.
func (r *Recorder) List(ctx context.Context, limit int) ([]*db.LogEntry, error) {
	return r.src.ListLogEntries(ctx, db.LogFilter{Limit: limit})
}

// ForTask returns every entry for one task in chronological order
func (r *Recorder) ForTask(ctx context.Context, taskID string) ([]*db.LogEntry, error) {
	return r.src.ListLogEntries(ctx, db.LogFilter{TaskID: taskID})
}
