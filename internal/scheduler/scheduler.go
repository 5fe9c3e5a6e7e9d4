package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kylemclaren/claude-tasker/internal/agent"
	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/execlog"
	"github.com/kylemclaren/claude-tasker/internal/metrics"
	"github.com/kylemclaren/claude-tasker/internal/parser"
)

// Store is the set of transitions the loop performs. The loop is the only writer of
// status and retry_count.
type Store interface {
	MarkInProgress(ctx context.Context, id string) (*db.Task, error)
	MarkCompleted(ctx context.Context, id string, outcome *db.ExecutionOutcome, entry *db.LogEntry) (*db.Task, error)
	MarkFailed(ctx context.Context, id string, outcome *db.ExecutionOutcome, entry *db.LogEntry, maxRetries int) (*db.Task, error)
	ReconcileInterrupted(ctx context.Context, maxRetries int) ([]*db.Task, error)
}

// Queue selects the next task and signals new work
type Queue interface {
	NextReady(ctx context.Context) (*db.Task, error)
	Depth(ctx context.Context) (int, error)
	Wake() <-chan struct{}
}

// Runner executes parsed actions
type Runner interface {
	ExecuteAll(ctx context.Context, actions []parser.Action) []db.ActionResult
}

// Notifier is told about tasks that reached a terminal state. Deliveries run on a
// background worker so a slow destination never holds up dispatch.
type Notifier interface {
	Notify(ctx context.Context, task *db.Task) error
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithPollInterval sets how long the loop sleeps when the queue is empty
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithMaxRetries sets how many failed attempts are retried before a task fails
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithEscalation makes any failed action fail the whole attempt
func WithEscalation(enabled bool) Option {
	return func(s *Scheduler) { s.escalate = enabled }
}

// WithNotifier registers a terminal-state notifier
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler is the single cooperative loop that dispatches one task at a time
type Scheduler struct {
	store    Store
	queue    Queue
	agent    agent.Client
	runner   Runner
	notifier Notifier

	pollInterval time.Duration
	maxRetries   int
	escalate     bool
	now          func() time.Time

	notifyMu      sync.Mutex
	notifyClosed  bool
	notifications chan *db.Task
	notifyDone    chan struct{}
}

const (
	// notifyBuffer bounds pending deliveries; further ones are dropped while it is full
	notifyBuffer = 64
	// selectAttempts bounds re-selection when the chosen task is taken before dispatch
	selectAttempts = 3
)

// New creates a new scheduler
func New(store Store, queue Queue, client agent.Client, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		queue:        queue,
		agent:        client,
		runner:       runner,
		pollInterval: 30 * time.Second,
		maxRetries:   3,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reconciles interrupted tasks and then loops until ctx is cancelled or the store
// fails. A dispatched attempt always runs to completion, even after cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"poll_interval": s.pollInterval,
		"max_retries":   s.maxRetries,
	}).Info("Scheduler loop started")

	for {
		if ctx.Err() != nil {
			log.Info("Scheduler loop stopped")
			return nil
		}

		dispatched, err := s.RunOnce(ctx)
		if err != nil {
			log.WithError(err).Error("Scheduler loop aborted")
			return err
		}
		if dispatched {
			// Re-poll immediately while there is backlog
			continue
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-s.queue.Wake():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Reconcile frees the execution slot from tasks left in progress by an earlier process
func (s *Scheduler) Reconcile(ctx context.Context) error {
	tasks, err := s.store.ReconcileInterrupted(ctx, s.maxRetries)
	if err != nil {
		return fmt.Errorf("failed to reconcile interrupted tasks: %w", err)
	}
	for _, task := range tasks {
		log.WithFields(log.Fields{
			"task_id":     task.ID,
			"status":      task.Status,
			"retry_count": task.RetryCount,
		}).Warn("Reconciled task interrupted by restart")
		metrics.AttemptsTotal.WithLabelValues(string(task.Status)).Inc()
		s.notify(task)
	}
	return nil
}

// RunOnce dispatches at most one task. It reports whether a task was dispatched. Only
// store failures are returned.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	if depth, err := s.queue.Depth(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	task, err := s.claim(ctx)
	if err != nil || task == nil {
		return false, err
	}

	// The attempt is not cancellable once dispatched
	ctx = context.WithoutCancel(ctx)

	metrics.TasksInFlight.Set(1)
	defer metrics.TasksInFlight.Set(0)

	logger := log.WithFields(log.Fields{
		"task_id":  task.ID,
		"priority": task.Priority,
		"attempt":  task.Attempt(),
	})
	logger.Info("Dispatching task")

	outcome, entry := s.attempt(ctx, task)

	var finished *db.Task
	if outcome.Succeeded {
		finished, err = s.store.MarkCompleted(ctx, task.ID, outcome, entry)
	} else {
		finished, err = s.store.MarkFailed(ctx, task.ID, outcome, entry, s.maxRetries)
	}
	if err != nil {
		return true, fmt.Errorf("failed to record outcome for %s: %w", task.ID, err)
	}

	metrics.AttemptsTotal.WithLabelValues(string(finished.Status)).Inc()
	metrics.AttemptDurationSeconds.Observe(float64(outcome.DurationMs) / 1000)

	fields := log.Fields{
		"status":      finished.Status,
		"retry_count": finished.RetryCount,
		"actions":     len(outcome.ActionResults),
		"duration_ms": outcome.DurationMs,
	}
	if outcome.Succeeded {
		logger.WithFields(fields).Info("Task completed")
	} else {
		logger.WithFields(fields).WithField("reason", outcome.FailureReason).Warn("Task attempt failed")
	}

	s.notify(finished)
	return true, nil
}

// claim selects the next ready task and moves it to in_progress. A task deleted or
// taken between selection and the transition is skipped and selection repeats.
func (s *Scheduler) claim(ctx context.Context) (*db.Task, error) {
	for i := 0; i < selectAttempts; i++ {
		next, err := s.queue.NextReady(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to select next task: %w", err)
		}
		if next == nil {
			return nil, nil
		}

		task, err := s.store.MarkInProgress(context.WithoutCancel(ctx), next.ID)
		if err == nil {
			return task, nil
		}
		var notFound *db.TaskNotFoundError
		if !errors.Is(err, db.ErrNotQueued) && !errors.Is(err, db.ErrAlreadyInProgress) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to mark task in progress: %w", err)
		}
		log.WithField("task_id", next.ID).WithError(err).Debug("Task no longer dispatchable")
	}
	return nil, nil
}

// attempt runs one agent exchange and its actions. The log entry is nil when no
// response was obtained.
func (s *Scheduler) attempt(ctx context.Context, task *db.Task) (*db.ExecutionOutcome, *db.LogEntry) {
	start := s.now()
	outcome := &db.ExecutionOutcome{
		AttemptID:     uuid.NewString(),
		Attempt:       task.Attempt(),
		ActionResults: []db.ActionResult{},
	}
	finish := func() {
		outcome.Timestamp = s.now()
		outcome.DurationMs = outcome.Timestamp.Sub(start).Milliseconds()
	}

	resp, err := s.agent.Invoke(ctx, task)
	if err != nil {
		outcome.Succeeded = false
		outcome.FailureReason = err.Error()
		metrics.AgentErrors.WithLabelValues(agentBackend(err), agentReason(err)).Inc()
		finish()
		return outcome, nil
	}

	actions := parser.Parse(resp.Text)
	results := s.runner.ExecuteAll(ctx, actions)
	for _, r := range results {
		result := "ok"
		if !r.Succeeded() {
			result = "error"
		}
		metrics.ActionsExecuted.WithLabelValues(r.Kind, result).Inc()
	}

	outcome.Succeeded = true
	outcome.AgentResponseText = resp.Text
	outcome.ActionResults = results

	if failed := outcome.FailedActions(); s.escalate && failed > 0 {
		outcome.Succeeded = false
		outcome.FailureReason = fmt.Sprintf("%d of %d actions failed", failed, len(results))
	}

	finish()
	return outcome, execlog.NewEntry(task, resp.Text, outcome.Timestamp)
}

// notify hands a terminal task to the delivery worker without blocking
func (s *Scheduler) notify(task *db.Task) {
	if s.notifier == nil || !task.Status.IsTerminal() {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.notifyClosed {
		return
	}
	if s.notifications == nil {
		s.notifications = make(chan *db.Task, notifyBuffer)
		s.notifyDone = make(chan struct{})
		go s.deliver(s.notifications, s.notifyDone)
	}

	select {
	case s.notifications <- task:
	default:
		log.WithField("task_id", task.ID).Warn("Notification queue full, dropping notification")
	}
}

func (s *Scheduler) deliver(tasks <-chan *db.Task, done chan<- struct{}) {
	defer close(done)
	for task := range tasks {
		if err := s.notifier.Notify(context.Background(), task); err != nil {
			log.WithField("task_id", task.ID).WithError(err).Warn("Failed to send notification")
		}
	}
}

// Close stops accepting notifications and waits for pending deliveries to finish
func (s *Scheduler) Close() {
	s.notifyMu.Lock()
	if s.notifyClosed {
		s.notifyMu.Unlock()
		return
	}
	s.notifyClosed = true
	tasks, done := s.notifications, s.notifyDone
	s.notifyMu.Unlock()

	if tasks != nil {
		close(tasks)
		<-done
	}
}

func agentBackend(err error) string {
	var unavailable *agent.UnavailableError
	var timeout *agent.TimeoutError
	switch {
	case errors.As(err, &unavailable):
		return unavailable.Backend
	case errors.As(err, &timeout):
		return timeout.Backend
	}
	return "unknown"
}

func agentReason(err error) string {
	var timeout *agent.TimeoutError
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var unavailable *agent.UnavailableError
	if errors.As(err, &unavailable) {
		return "unavailable"
	}
	return "other"
}
