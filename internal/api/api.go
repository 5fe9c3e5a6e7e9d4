package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// Store is the task store surface the API reads and writes
type Store interface {
	Enqueue(ctx context.Context, description string, priority int, tags []string) (*db.Task, error)
	GetTask(ctx context.Context, id string) (*db.Task, error)
	ListTasks(ctx context.Context, filter db.TaskFilter) ([]*db.Task, error)
	DeleteQueued(ctx context.Context, id string) error
	ListLogEntries(ctx context.Context, filter db.LogFilter) ([]*db.LogEntry, error)
	Stats(ctx context.Context, now time.Time) (*db.Stats, error)
	Ping(ctx context.Context) error
}

// Notifier is woken after a task is enqueued
type Notifier interface {
	Notify()
}

// Schedules reports upcoming recurring producer runs
type Schedules interface {
	NextRuns() map[string]time.Time
}

// Server represents the API server
type Server struct {
	store     Store
	notifier  Notifier
	schedules Schedules
	started   time.Time
	router    chi.Router
}

// NewServer creates a new API server. notifier may be nil.
func NewServer(store Store, notifier Notifier) *Server {
	s := &Server{
		store:    store,
		notifier: notifier,
		started:  time.Now(),
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// SetSchedules attaches recurring producers to the status endpoint
func (s *Server) SetSchedules(schedules Schedules) {
	s.schedules = schedules
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/api/v1/health", s.HealthCheck)
	r.Get("/api/v1/status", s.GetStatus)

	r.Get("/api/v1/tasks", s.ListTasks)
	r.Post("/api/v1/tasks", s.CreateTask)
	r.Get("/api/v1/tasks/{id}", s.GetTask)
	r.Delete("/api/v1/tasks/{id}", s.DeleteTask)

	r.Get("/api/v1/log", s.ListLog)

	r.Handle("/metrics", promhttp.Handler())
}

// Router returns the chi router for use with http.Server
func (s *Server) Router() http.Handler {
	return s.router
}
