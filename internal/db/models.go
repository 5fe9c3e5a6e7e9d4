package db

import "time"

// Status represents the lifecycle state of a task
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority bounds, 5 is the highest
const (
	MinPriority = 1
	MaxPriority = 5
)

// Task represents a unit of autonomous work
type Task struct {
	ID              string            `json:"id"`
	Seq             int64             `json:"-"`
	Description     string            `json:"description"`
	Priority        int               `json:"priority"`
	Tags            []string          `json:"tags"`
	Status          Status            `json:"status"`
	RetryCount      int               `json:"retry_count"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	ExecutionResult *ExecutionOutcome `json:"execution_result,omitempty"`
}

// Attempt returns the 1-based number of the attempt that dispatching the task now would start
func (t *Task) Attempt() int {
	return t.RetryCount + 1
}

// StepResult is the outcome of one command inside a shell action
type StepResult struct {
	Command     string `json:"command"`
	Output      string `json:"output"`
	ErrorOutput string `json:"error_output,omitempty"`
	ExitCode    int    `json:"exit_code"`
	DurationMs  int64  `json:"duration_ms"`
}

// ActionResult is the outcome of executing one action
type ActionResult struct {
	Kind          string       `json:"kind"`
	Target        string       `json:"target,omitempty"`
	Output        string       `json:"output"`
	ErrorOutput   string       `json:"error_output,omitempty"`
	ExitIndicator int          `json:"exit_indicator"`
	Steps         []StepResult `json:"steps,omitempty"`
	DurationMs    int64        `json:"duration_ms"`
}

// Succeeded reports whether the action finished with a zero exit indicator
func (r ActionResult) Succeeded() bool {
	return r.ExitIndicator == 0
}

// ExecutionOutcome is the aggregate result of one task attempt
type ExecutionOutcome struct {
	AttemptID         string         `json:"attempt_id"`
	Attempt           int            `json:"attempt"`
	Succeeded         bool           `json:"succeeded"`
	AgentResponseText string         `json:"agent_response_text,omitempty"`
	ActionResults     []ActionResult `json:"action_results"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	DurationMs        int64          `json:"duration_ms"`
}

// FailedActions returns the number of action results with a non-zero exit indicator
func (o *ExecutionOutcome) FailedActions() int {
	n := 0
	for _, r := range o.ActionResults {
		if !r.Succeeded() {
			n++
		}
	}
	return n
}

// LogEntry is an append-only record of one agent exchange
type LogEntry struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	TaskID          string    `json:"task_id"`
	TaskDescription string    `json:"task_description"`
	ResponseLength  int       `json:"response_length"`
	ResponsePreview string    `json:"response_preview"`
}

// TaskFilter narrows ListTasks results
type TaskFilter struct {
	Status Status
	Limit  int
}

// LogFilter narrows ListLogEntries results
type LogFilter struct {
	TaskID string
	Limit  int
}

// Stats summarizes the store for status displays
type Stats struct {
	Queued         int `json:"queue_size"`
	InProgress     int `json:"in_progress"`
	CompletedToday int `json:"completed_today"`
	Completed      int `json:"completed"`
	Failed         int `json:"failed_tasks"`
	Total          int `json:"total_tasks"`
}
