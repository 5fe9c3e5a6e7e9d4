package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

type fixedSchedules map[string]time.Time

func (f fixedSchedules) NextRuns() map[string]time.Time { return f }

func setupTestServer(t *testing.T) (*Server, *db.DB, *countingNotifier) {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &countingNotifier{}
	return NewServer(store, notifier), store, notifier
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// TestHealthCheck - reports ok when the store answers
func TestHealthCheck(t *testing.T) {
	s, _, _ := setupTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

// TestCreateTask - enqueues with default priority and wakes the scheduler
func TestCreateTask(t *testing.T) {
	s, store, notifier := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/tasks", `{"description":"List files","tags":["demo"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[TaskResponse](t, rec)
	assert.Equal(t, "List files", resp.Description)
	assert.Equal(t, 3, resp.Priority)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, []string{"demo"}, resp.Tags)
	assert.Equal(t, int32(1), notifier.n.Load())

	stored, err := store.GetTask(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusQueued, stored.Status)
}

// TestCreateTask_Validation - bad input maps to 400 and nothing is stored
func TestCreateTask_Validation(t *testing.T) {
	s, store, notifier := setupTestServer(t)

	for _, body := range []string{
		`{"description":""}`,
		`{"description":"x","priority":9}`,
		`{"description":"x","priority":0}`,
		`not json`,
	} {
		rec := do(t, s, http.MethodPost, "/api/v1/tasks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	tasks, err := store.ListTasks(context.Background(), db.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, notifier.n.Load())
}

// TestCreateTask_BodyTooLarge - oversized bodies are refused before decoding finishes
func TestCreateTask_BodyTooLarge(t *testing.T) {
	s, store, _ := setupTestServer(t)

	body := `{"description":"` + strings.Repeat("x", maxRequestBody) + `"}`
	rec := do(t, s, http.MethodPost, "/api/v1/tasks", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "body_too_large", decode[ErrorResponse](t, rec).Code)

	tasks, err := store.ListTasks(context.Background(), db.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// TestGetTask - found and not found
func TestGetTask(t *testing.T) {
	s, store, _ := setupTestServer(t)
	task, err := store.Enqueue(context.Background(), "Check disk", 4, nil)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/v1/tasks/"+task.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TaskResponse](t, rec)
	assert.Equal(t, task.ID, resp.ID)
	assert.Equal(t, []string{}, resp.Tags)

	rec = do(t, s, http.MethodGet, "/api/v1/tasks/tsk_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

// TestListTasks_Filters - status filter, limit, and bad parameters
func TestListTasks_Filters(t *testing.T) {
	s, store, _ := setupTestServer(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, "first", 3, nil)
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "second", 3, nil)
	require.NoError(t, err)
	_, err = store.MarkInProgress(ctx, first.ID)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[TaskListResponse](t, rec).Total)

	rec = do(t, s, http.MethodGet, "/api/v1/tasks?status=in_progress", "")
	list := decode[TaskListResponse](t, rec)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, first.ID, list.Tasks[0].ID)

	rec = do(t, s, http.MethodGet, "/api/v1/tasks?limit=1", "")
	list = decode[TaskListResponse](t, rec)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "second", list.Tasks[0].Description)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/tasks?status=running", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/tasks?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/tasks?limit=-1", "").Code)
}

// TestDeleteTask - only queued tasks can be removed
func TestDeleteTask(t *testing.T) {
	s, store, _ := setupTestServer(t)
	ctx := context.Background()

	queued, err := store.Enqueue(ctx, "queued", 3, nil)
	require.NoError(t, err)
	running, err := store.Enqueue(ctx, "running", 3, nil)
	require.NoError(t, err)
	_, err = store.MarkInProgress(ctx, running.ID)
	require.NoError(t, err)

	rec := do(t, s, http.MethodDelete, "/api/v1/tasks/"+queued.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SuccessResponse](t, rec).Success)

	rec = do(t, s, http.MethodDelete, "/api/v1/tasks/"+running.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/v1/tasks/"+queued.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestListLog - entries come back oldest first and can be filtered by task
func TestListLog(t *testing.T) {
	s, store, _ := setupTestServer(t)
	ctx := context.Background()

	a, err := store.Enqueue(ctx, "a", 3, nil)
	require.NoError(t, err)
	b, err := store.Enqueue(ctx, "b", 3, nil)
	require.NoError(t, err)

	for i, task := range []*db.Task{a, b} {
		require.NoError(t, store.AppendLogEntry(ctx, &db.LogEntry{
			Timestamp:       time.Now().UTC().Add(time.Duration(i) * time.Second),
			TaskID:          task.ID,
			TaskDescription: task.Description,
			ResponseLength:  2,
			ResponsePreview: "ok",
		}))
	}

	rec := do(t, s, http.MethodGet, "/api/v1/log", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[LogListResponse](t, rec)
	require.Len(t, all.Entries, 2)
	assert.Equal(t, a.ID, all.Entries[0].TaskID)

	rec = do(t, s, http.MethodGet, "/api/v1/log?task_id="+b.ID, "")
	filtered := decode[LogListResponse](t, rec)
	require.Len(t, filtered.Entries, 1)
	assert.Equal(t, b.ID, filtered.Entries[0].TaskID)
}

// TestGetStatus - counts and recurring schedules
func TestGetStatus(t *testing.T) {
	s, store, _ := setupTestServer(t)
	next := time.Date(2030, 1, 1, 3, 0, 0, 0, time.UTC)
	s.SetSchedules(fixedSchedules{"nightly": next})

	_, err := store.Enqueue(context.Background(), "a", 3, nil)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StatusResponse](t, rec)
	assert.Equal(t, 1, resp.Queued)
	assert.Equal(t, 1, resp.Total)
	assert.True(t, next.Equal(resp.Recurring["nightly"]))
}

// TestMetricsEndpoint - prometheus metrics are exposed
func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := setupTestServer(t)
	do(t, s, http.MethodPost, "/api/v1/tasks", `{"description":"count me"}`)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claude_tasker_queue_tasks_enqueued_total")
}

// TestCORSPreflight - OPTIONS requests short-circuit
func TestCORSPreflight(t *testing.T) {
	s, _, _ := setupTestServer(t)

	rec := do(t, s, http.MethodOptions, "/api/v1/tasks", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
