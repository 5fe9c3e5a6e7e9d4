package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/claude-tasker/internal/agent"
	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/executor"
	"github.com/kylemclaren/claude-tasker/internal/parser"
	"github.com/kylemclaren/claude-tasker/internal/queue"
)

type testEnv struct {
	store *db.DB
	queue *queue.Queue
	exec  *executor.Executor
	dir   string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := db.New(filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	work := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(work, 0755))
	cfg := executor.DefaultConfig()
	cfg.WorkDir = work
	cfg.CommandTimeout = 5 * time.Second

	return &testEnv{store: store, queue: queue.New(store), exec: executor.New(cfg), dir: work}
}

func reply(text string) agent.Client {
	return agent.Func(func(ctx context.Context, task *db.Task) (*agent.Response, error) {
		return &agent.Response{Text: text, Backend: "stub"}, nil
	})
}

// MockAgent is a mock implementation of agent.Client
type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) Invoke(ctx context.Context, task *db.Task) (*agent.Response, error) {
	args := m.Called(ctx, task)
	if r := args.Get(0); r != nil {
		return r.(*agent.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []*db.Task
}

func (n *recordingNotifier) Notify(ctx context.Context, task *db.Task) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, task)
	return nil
}

// TestRunOnce_EndToEnd - a stubbed agent reply runs ls and completes the task
func TestRunOnce_EndToEnd(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "a.txt"), []byte("x"), 0644))

	task, err := env.store.Enqueue(ctx, "list files", 3, nil)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	s := New(env.store, env.queue, reply("Listing:\n```bash\nls\n```"), env.exec, WithNotifier(notifier))

	dispatched, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, dispatched)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, got.Status)
	require.NotNil(t, got.ExecutionResult)
	assert.True(t, got.ExecutionResult.Succeeded)
	require.Len(t, got.ExecutionResult.ActionResults, 1)
	assert.Equal(t, 0, got.ExecutionResult.ActionResults[0].ExitIndicator)
	assert.Contains(t, got.ExecutionResult.ActionResults[0].Output, "a.txt")
	assert.NotEmpty(t, got.ExecutionResult.AttemptID)

	entries, err := env.store.ListLogEntries(ctx, db.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, task.ID, entries[0].TaskID)

	s.Close()
	require.Len(t, notifier.tasks, 1)
	assert.Equal(t, db.StatusCompleted, notifier.tasks[0].Status)
}

// TestRunOnce_EmptyQueue - nothing to do reports no dispatch
func TestRunOnce_EmptyQueue(t *testing.T) {
	env := setupTestEnv(t)
	s := New(env.store, env.queue, reply(""), env.exec)

	dispatched, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, dispatched)
}

// TestRunOnce_AgentFailureRetries - repeated agent failures exhaust the retry budget
func TestRunOnce_AgentFailureRetries(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	const maxRetries = 3

	task, err := env.store.Enqueue(ctx, "unreachable", 3, nil)
	require.NoError(t, err)

	m := &MockAgent{}
	m.On("Invoke", mock.Anything, mock.Anything).
		Return(nil, &agent.UnavailableError{Backend: "stub", Err: errors.New("connection refused")})

	notifier := &recordingNotifier{}
	s := New(env.store, env.queue, m, env.exec, WithMaxRetries(maxRetries), WithNotifier(notifier))

	var statuses []db.Status
	for i := 0; i < 10; i++ {
		dispatched, err := s.RunOnce(ctx)
		require.NoError(t, err)
		if !dispatched {
			break
		}
		got, err := env.store.GetTask(ctx, task.ID)
		require.NoError(t, err)
		statuses = append(statuses, got.Status)
	}

	assert.Equal(t, []db.Status{db.StatusQueued, db.StatusQueued, db.StatusQueued, db.StatusFailed}, statuses)
	m.AssertNumberOfCalls(t, "Invoke", maxRetries+1)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, maxRetries, got.RetryCount)
	require.NotNil(t, got.ExecutionResult)
	assert.Contains(t, got.ExecutionResult.FailureReason, "connection refused")
	assert.Equal(t, maxRetries+1, got.ExecutionResult.Attempt)

	// No response means no log entry
	entries, err := env.store.ListLogEntries(ctx, db.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	s.Close()
	require.Len(t, notifier.tasks, 1)
	assert.Equal(t, db.StatusFailed, notifier.tasks[0].Status)
}

// TestRunOnce_ActionFailureIsPartialSuccess - failing actions do not fail the task by default
func TestRunOnce_ActionFailureIsPartialSuccess(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	task, err := env.store.Enqueue(ctx, "partial", 3, nil)
	require.NoError(t, err)

	s := New(env.store, env.queue, reply("```bash\nexit 2\necho still\n```"), env.exec)
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.ExecutionResult.ActionResults[0].ExitIndicator)
	assert.Equal(t, 1, got.ExecutionResult.FailedActions())
}

// TestRunOnce_EscalationFailsAttempt - with escalation enabled a failed action fails the attempt
func TestRunOnce_EscalationFailsAttempt(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	task, err := env.store.Enqueue(ctx, "strict", 3, nil)
	require.NoError(t, err)

	s := New(env.store, env.queue, reply("```bash\nexit 2\n```"), env.exec, WithEscalation(true), WithMaxRetries(0))
	_, err = s.RunOnce(ctx)
	require.NoError(t, err)

	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, got.Status)
	assert.Equal(t, "1 of 1 actions failed", got.ExecutionResult.FailureReason)

	// The response was obtained, so it is still logged
	entries, err := env.store.ListLogEntries(ctx, db.LogFilter{TaskID: task.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestRunOnce_PriorityOrder - higher priority tasks are dispatched first
func TestRunOnce_PriorityOrder(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	var order []string
	client := agent.Func(func(ctx context.Context, task *db.Task) (*agent.Response, error) {
		order = append(order, task.Description)
		return &agent.Response{Text: "nothing to run"}, nil
	})

	for _, tc := range []struct {
		desc     string
		priority int
	}{{"low", 1}, {"high-1", 5}, {"mid", 3}, {"high-2", 5}} {
		_, err := env.store.Enqueue(ctx, tc.desc, tc.priority, nil)
		require.NoError(t, err)
	}

	s := New(env.store, env.queue, client, env.exec)
	for {
		dispatched, err := s.RunOnce(ctx)
		require.NoError(t, err)
		if !dispatched {
			break
		}
	}

	assert.Equal(t, []string{"high-1", "high-2", "mid", "low"}, order)
}

// TestRunOnce_SingleActiveTask - the agent observes exactly one in-progress task
func TestRunOnce_SingleActiveTask(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.store.Enqueue(ctx, "t", 3, nil)
		require.NoError(t, err)
	}

	client := agent.Func(func(ctx context.Context, task *db.Task) (*agent.Response, error) {
		n, err := env.store.CountByStatus(ctx, db.StatusInProgress)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return &agent.Response{Text: ""}, nil
	})

	s := New(env.store, env.queue, client, env.exec)
	for i := 0; i < 3; i++ {
		dispatched, err := s.RunOnce(ctx)
		require.NoError(t, err)
		assert.True(t, dispatched)
	}
}

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) MarkInProgress(ctx context.Context, id string) (*db.Task, error) {
	args := m.Called(ctx, id)
	if t := args.Get(0); t != nil {
		return t.(*db.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) MarkCompleted(ctx context.Context, id string, outcome *db.ExecutionOutcome, entry *db.LogEntry) (*db.Task, error) {
	args := m.Called(ctx, id, outcome, entry)
	if t := args.Get(0); t != nil {
		return t.(*db.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) MarkFailed(ctx context.Context, id string, outcome *db.ExecutionOutcome, entry *db.LogEntry, maxRetries int) (*db.Task, error) {
	args := m.Called(ctx, id, outcome, entry, maxRetries)
	if t := args.Get(0); t != nil {
		return t.(*db.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ReconcileInterrupted(ctx context.Context, maxRetries int) ([]*db.Task, error) {
	args := m.Called(ctx, maxRetries)
	if t := args.Get(0); t != nil {
		return t.([]*db.Task), args.Error(1)
	}
	return nil, args.Error(1)
}

type staticQueue struct {
	task *db.Task
	wake chan struct{}
}

func (q *staticQueue) NextReady(ctx context.Context) (*db.Task, error) { return q.task, nil }
func (q *staticQueue) Depth(ctx context.Context) (int, error)          { return 1, nil }
func (q *staticQueue) Wake() <-chan struct{}                           { return q.wake }

type noopRunner struct{}

func (noopRunner) ExecuteAll(ctx context.Context, actions []parser.Action) []db.ActionResult {
	return []db.ActionResult{}
}

// TestRun_PersistenceErrorStopsLoop - a failed transition write aborts the loop
func TestRun_PersistenceErrorStopsLoop(t *testing.T) {
	task := &db.Task{ID: "tsk_P", Description: "p", Priority: 3, Status: db.StatusQueued}
	inProgress := *task
	inProgress.Status = db.StatusInProgress

	store := &MockStore{}
	store.On("ReconcileInterrupted", mock.Anything, 3).Return([]*db.Task{}, nil)
	store.On("MarkInProgress", mock.Anything, "tsk_P").Return(&inProgress, nil)
	store.On("MarkCompleted", mock.Anything, "tsk_P", mock.Anything, mock.Anything).
		Return(nil, &db.PersistenceError{Op: "mark completed", Err: errors.New("disk full")})

	s := New(store, &staticQueue{task: task, wake: make(chan struct{})}, reply("ok"), noopRunner{})

	err := s.Run(context.Background())
	var pe *db.PersistenceError
	require.True(t, errors.As(err, &pe), "got %v", err)
	store.AssertNumberOfCalls(t, "MarkCompleted", 1)
}

// TestRun_ReconcilesAndStops - interrupted tasks are requeued and cancellation ends the loop
func TestRun_ReconcilesAndStops(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale, err := env.store.Enqueue(ctx, "stale", 3, nil)
	require.NoError(t, err)
	_, err = env.store.MarkInProgress(ctx, stale.ID)
	require.NoError(t, err)

	done := make(chan struct{})
	client := agent.Func(func(ctx context.Context, task *db.Task) (*agent.Response, error) {
		defer close(done)
		assert.Equal(t, stale.ID, task.ID)
		assert.Equal(t, 1, task.RetryCount)
		return &agent.Response{Text: "done"}, nil
	})

	s := New(env.store, env.queue, client, env.exec, WithPollInterval(time.Hour))
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reconciled task was never dispatched")
	}
	// Let the transition commit, then stop the idle loop
	require.Eventually(t, func() bool {
		got, err := env.store.GetTask(context.Background(), stale.ID)
		return err == nil && got.Status == db.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

// TestRun_WakeOnEnqueue - a notification ends the idle wait early
func TestRun_WakeOnEnqueue(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan string, 1)
	client := agent.Func(func(ctx context.Context, task *db.Task) (*agent.Response, error) {
		handled <- task.Description
		return &agent.Response{Text: ""}, nil
	})

	s := New(env.store, env.queue, client, env.exec, WithPollInterval(time.Hour))
	go func() { _ = s.Run(ctx) }()

	// Give the loop time to go idle
	time.Sleep(50 * time.Millisecond)
	_, err := env.store.Enqueue(ctx, "woken", 3, nil)
	require.NoError(t, err)
	env.queue.Notify()

	select {
	case desc := <-handled:
		assert.Equal(t, "woken", desc)
	case <-time.After(5 * time.Second):
		t.Fatal("loop was not woken by the enqueue notification")
	}
}

type blockingNotifier struct {
	release chan struct{}
	mu      sync.Mutex
	tasks   []string
}

func (n *blockingNotifier) Notify(ctx context.Context, task *db.Task) error {
	<-n.release
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, task.ID)
	return errors.New("webhook unavailable")
}

// TestRunOnce_SlowNotifierDoesNotDelayDispatch - deliveries run off the loop and drain on Close
func TestRunOnce_SlowNotifierDoesNotDelayDispatch(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	first, err := env.store.Enqueue(ctx, "first", 5, nil)
	require.NoError(t, err)
	second, err := env.store.Enqueue(ctx, "second", 3, nil)
	require.NoError(t, err)

	notifier := &blockingNotifier{release: make(chan struct{})}
	s := New(env.store, env.queue, reply("done"), env.exec, WithNotifier(notifier))

	start := time.Now()
	for i := 0; i < 2; i++ {
		dispatched, err := s.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, dispatched)
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	got, err := env.store.GetTask(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, got.Status)

	close(notifier.release)
	s.Close()
	assert.Equal(t, []string{first.ID, second.ID}, notifier.tasks)

	// Notifications after Close are ignored
	s.notify(got)
	assert.Len(t, notifier.tasks, 2)
}

type sequenceQueue struct {
	tasks []*db.Task
}

func (q *sequenceQueue) NextReady(ctx context.Context) (*db.Task, error) {
	if len(q.tasks) == 0 {
		return nil, nil
	}
	next := q.tasks[0]
	q.tasks = q.tasks[1:]
	return next, nil
}
func (q *sequenceQueue) Depth(ctx context.Context) (int, error) { return len(q.tasks), nil }
func (q *sequenceQueue) Wake() <-chan struct{}                  { return nil }

// TestRunOnce_SkipsTaskTakenBeforeDispatch - a task gone at claim time falls through to the next one
func TestRunOnce_SkipsTaskTakenBeforeDispatch(t *testing.T) {
	gone := &db.Task{ID: "tsk_gone", Description: "deleted", Priority: 5, Status: db.StatusQueued}
	next := &db.Task{ID: "tsk_next", Description: "next", Priority: 3, Status: db.StatusQueued}
	running := *next
	running.Status = db.StatusInProgress
	done := running
	done.Status = db.StatusCompleted

	store := &MockStore{}
	store.On("MarkInProgress", mock.Anything, "tsk_gone").Return(nil, &db.TaskNotFoundError{TaskID: "tsk_gone"})
	store.On("MarkInProgress", mock.Anything, "tsk_next").Return(&running, nil)
	store.On("MarkCompleted", mock.Anything, "tsk_next", mock.Anything, mock.Anything).Return(&done, nil)

	s := New(store, &sequenceQueue{tasks: []*db.Task{gone, next}}, reply("ok"), noopRunner{})

	dispatched, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, dispatched)
	store.AssertCalled(t, "MarkCompleted", mock.Anything, "tsk_next", mock.Anything, mock.Anything)
}
