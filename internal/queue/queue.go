package queue

import (
	"context"
	"sort"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// Store is the subset of the task store the queue reads from
type Store interface {
	ByStatus(ctx context.Context, status db.Status) ([]*db.Task, error)
	CountByStatus(ctx context.Context, status db.Status) (int, error)
}

// Less reports whether a should run before b: higher priority first, then earliest
// creation, then insertion order
func Less(a, b *db.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// Select returns the queued task that should run next, or nil
func Select(tasks []*db.Task) *db.Task {
	var best *db.Task
	for _, t := range tasks {
		if t.Status != db.StatusQueued {
			continue
		}
		if best == nil || Less(t, best) {
			best = t
		}
	}
	return best
}

// Sort orders tasks in dispatch order
func Sort(tasks []*db.Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return Less(tasks[i], tasks[j]) })
}

// Queue is a derived view over the task store. It holds no task state of its own.
type Queue struct {
	store Store
	wake  chan struct{}
}

// New creates a queue over the given store
func New(store Store) *Queue {
	return &Queue{
		store: store,
		wake:  make(chan struct{}, 1),
	}
}

// NextReady returns the next task to dispatch. It returns nil when nothing is queued or
// when another task is already in progress.
func (q *Queue) NextReady(ctx context.Context) (*db.Task, error) {
	active, err := q.store.CountByStatus(ctx, db.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, nil
	}

	queued, err := q.store.ByStatus(ctx, db.StatusQueued)
	if err != nil {
		return nil, err
	}
	return Select(queued), nil
}

// Depth returns the number of queued tasks
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.CountByStatus(ctx, db.StatusQueued)
}

// Notify signals a waiting loop that new work may be available. It never blocks.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Wake returns the channel that receives enqueue notifications
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
