package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/metrics"
	"github.com/kylemclaren/claude-tasker/internal/version"
)

const (
	defaultPriority = 3
	maxListLimit    = 1000
	maxRequestBody  = 1 << 20
)

// HealthCheck handles GET /api/v1/health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Store unavailable", "", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Version,
	})
}

// GetStatus handles GET /api/v1/status
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), time.Now())
	if err != nil {
		s.storeError(w, "Failed to fetch status", err)
		return
	}

	resp := StatusResponse{
		Stats:         *stats,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.schedules != nil {
		resp.Recurring = s.schedules.NextRuns()
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// ListTasks handles GET /api/v1/tasks
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	var filter db.TaskFilter
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = db.Status(status)
		if !filter.Status.Valid() {
			s.errorResponse(w, http.StatusBadRequest, "Invalid status filter", "invalid_status", nil)
			return
		}
	}
	limit, err := parseLimit(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid limit", "invalid_limit", err)
		return
	}
	filter.Limit = limit

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.storeError(w, "Failed to fetch tasks", err)
		return
	}

	response := TaskListResponse{
		Tasks: make([]TaskResponse, len(tasks)),
		Total: len(tasks),
	}
	for i, task := range tasks {
		response.Tasks[i] = taskToResponse(task)
	}
	s.jsonResponse(w, http.StatusOK, response)
}

// CreateTask handles POST /api/v1/tasks
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large", "body_too_large", err)
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body", "invalid_body", err)
		return
	}

	priority := defaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	task, err := s.store.Enqueue(r.Context(), req.Description, priority, req.Tags)
	if err != nil {
		s.storeError(w, "Failed to create task", err)
		return
	}

	metrics.TasksEnqueued.WithLabelValues("api").Inc()
	if s.notifier != nil {
		s.notifier.Notify()
	}
	log.WithFields(log.Fields{"task_id": task.ID, "priority": task.Priority}).Info("Task enqueued via API")

	s.jsonResponse(w, http.StatusCreated, taskToResponse(task))
}

// GetTask handles GET /api/v1/tasks/{id}
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, "Failed to fetch task", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, taskToResponse(task))
}

// DeleteTask handles DELETE /api/v1/tasks/{id}. Only queued tasks can be deleted.
func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteQueued(r.Context(), id); err != nil {
		s.storeError(w, "Failed to delete task", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, SuccessResponse{Success: true, Message: "Task deleted"})
}

// ListLog handles GET /api/v1/log
func (s *Server) ListLog(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid limit", "invalid_limit", err)
		return
	}

	entries, err := s.store.ListLogEntries(r.Context(), db.LogFilter{
		TaskID: r.URL.Query().Get("task_id"),
		Limit:  limit,
	})
	if err != nil {
		s.storeError(w, "Failed to fetch execution log", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, LogListResponse{Entries: entries, Total: len(entries)})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit < 0 || limit > maxListLimit {
		return 0, errLimitRange
	}
	return limit, nil
}

func taskToResponse(task *db.Task) TaskResponse {
	resp := TaskResponse{
		ID:              task.ID,
		Description:     task.Description,
		Priority:        task.Priority,
		Tags:            task.Tags,
		Status:          string(task.Status),
		RetryCount:      task.RetryCount,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
		StartedAt:       task.StartedAt,
		FinishedAt:      task.FinishedAt,
		ExecutionResult: task.ExecutionResult,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if task.StartedAt != nil && task.FinishedAt != nil {
		durationMs := task.FinishedAt.Sub(*task.StartedAt).Milliseconds()
		resp.DurationMs = &durationMs
	}
	return resp
}

// storeError maps store errors onto HTTP status codes
func (s *Server) storeError(w http.ResponseWriter, message string, err error) {
	var verr *db.ValidationError
	var nferr *db.TaskNotFoundError
	switch {
	case errors.As(err, &verr):
		s.errorResponse(w, http.StatusBadRequest, verr.Error(), "validation_failed", nil)
	case errors.As(err, &nferr):
		s.errorResponse(w, http.StatusNotFound, "Task not found", "not_found", err)
	case errors.Is(err, db.ErrNotQueued):
		s.errorResponse(w, http.StatusConflict, "Task is not queued", "not_queued", err)
	default:
		log.WithError(err).Error(message)
		s.errorResponse(w, http.StatusInternalServerError, message, "internal", err)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{
		Error: message,
		Code:  code,
	}
	if err != nil {
		resp.Details = err.Error()
	}
	s.jsonResponse(w, status, resp)
}

type requestError string

func (e requestError) Error() string { return string(e) }

const errLimitRange requestError = "limit must be between 0 and 1000"
