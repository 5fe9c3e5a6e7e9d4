package api

import (
	"time"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// TaskRequest represents a task creation request
type TaskRequest struct {
	Description string   `json:"description"`
	Priority    *int     `json:"priority,omitempty"` // Defaults to 3
	Tags        []string `json:"tags,omitempty"`
}

// TaskResponse represents a task in API responses
type TaskResponse struct {
	ID              string               `json:"id"`
	Description     string               `json:"description"`
	Priority        int                  `json:"priority"`
	Tags            []string             `json:"tags"`
	Status          string               `json:"status"`
	RetryCount      int                  `json:"retry_count"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
	DurationMs      *int64               `json:"duration_ms,omitempty"`
	ExecutionResult *db.ExecutionOutcome `json:"execution_result,omitempty"`
}

// TaskListResponse represents a list of tasks
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Total int            `json:"total"`
}

// LogListResponse represents execution log entries, oldest first
type LogListResponse struct {
	Entries []*db.LogEntry `json:"entries"`
	Total   int            `json:"total"`
}

// StatusResponse represents the engine summary
type StatusResponse struct {
	db.Stats
	UptimeSeconds int64                `json:"uptime_seconds"`
	Recurring     map[string]time.Time `json:"recurring_next_runs,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
