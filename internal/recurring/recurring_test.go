package recurring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

func setupTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// TestValidate - five-field, six-field and descriptor expressions are accepted
func TestValidate(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 30 9 * * 1-5", "@hourly", "@every 10m"} {
		assert.NoError(t, Validate(expr), expr)
	}
	assert.Error(t, Validate("every tuesday"))
	assert.Error(t, Validate(""))
}

// TestFire_EnqueuesTaggedTask - a fired producer enqueues its task with its tag
func TestFire_EnqueuesTaggedTask(t *testing.T) {
	store := setupTestStore(t)
	var notified []*db.Task
	s := New(store, func(task *db.Task) { notified = append(notified, task) })

	p := Producer{Name: "nightly", Cron: "@daily", Description: "rotate logs", Priority: 2, Tags: []string{"ops"}}
	task, err := s.Fire(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Equal(t, db.StatusQueued, task.Status)
	assert.Equal(t, []string{"ops", "recurring:nightly"}, task.Tags)
	assert.Len(t, notified, 1)
}

// TestFire_SkipIfQueued - a pending run suppresses the next one
func TestFire_SkipIfQueued(t *testing.T) {
	store := setupTestStore(t)
	s := New(store, nil)
	ctx := context.Background()

	p := Producer{Name: "sync", Cron: "@hourly", Description: "sync repo", Priority: 3, SkipIfQueued: true}
	first, err := s.Fire(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.Fire(ctx, p)
	require.NoError(t, err)
	assert.Nil(t, second)

	n, err := store.CountByStatus(ctx, db.StatusQueued)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestAdd_SchedulesProducers - registered producers report a next run
func TestAdd_SchedulesProducers(t *testing.T) {
	s := New(setupTestStore(t), nil)

	require.NoError(t, s.Add(Producer{Name: "a", Cron: "@hourly", Description: "a", Priority: 3}))
	require.NoError(t, s.Add(Producer{Name: "a", Cron: "*/5 * * * *", Description: "a", Priority: 3}))
	assert.Error(t, s.Add(Producer{Name: "bad", Cron: "nope", Description: "x", Priority: 3}))

	s.Start()
	defer s.Stop()

	next := s.NextRuns()
	assert.Len(t, next, 1)
	assert.Contains(t, next, "a")
}
