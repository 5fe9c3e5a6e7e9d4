package recurring

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// Producer enqueues a task on a cron schedule
type Producer struct {
	Name        string   `mapstructure:"name" yaml:"name" validate:"required"`
	Cron        string   `mapstructure:"cron" yaml:"cron" validate:"required"`
	Description string   `mapstructure:"description" yaml:"description" validate:"required"`
	Priority    int      `mapstructure:"priority" yaml:"priority" validate:"min=1,max=5"`
	Tags        []string `mapstructure:"tags" yaml:"tags,omitempty"`
	// SkipIfQueued suppresses a run while an earlier task from this producer is still queued
	SkipIfQueued bool `mapstructure:"skip_if_queued" yaml:"skip_if_queued,omitempty"`
}

// Tag marks every task created by the producer
func (p Producer) Tag() string {
	return "recurring:" + p.Name
}

// Store is what producers write to
type Store interface {
	Enqueue(ctx context.Context, description string, priority int, tags []string) (*db.Task, error)
	ByStatus(ctx context.Context, status db.Status) ([]*db.Task, error)
}

// parser accepts five-field expressions, an optional leading seconds field, and descriptors
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a cron expression
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Scheduler runs recurring producers. Producers only enqueue; dispatch stays with the
// scheduler loop.
type Scheduler struct {
	cron      *cron.Cron
	store     Store
	onEnqueue func(*db.Task)
	entries   map[string]cron.EntryID
	mu        sync.RWMutex
	running   bool
}

// New creates a recurring scheduler. onEnqueue, if set, runs after each enqueued task.
func New(store Store, onEnqueue func(*db.Task)) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		store:     store,
		onEnqueue: onEnqueue,
		entries:   make(map[string]cron.EntryID),
	}
}

// Add registers a producer, replacing one with the same name
func (s *Scheduler) Add(p Producer) error {
	if err := Validate(p.Cron); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[p.Name]; ok {
		s.cron.Remove(id)
	}
	id, err := s.cron.AddFunc(p.Cron, func() {
		if _, err := s.Fire(context.Background(), p); err != nil {
			log.WithField("producer", p.Name).WithError(err).Error("Recurring enqueue failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", p.Name, err)
	}
	s.entries[p.Name] = id
	return nil
}

// Fire enqueues the producer's task now. It returns nil when the run was skipped.
func (s *Scheduler) Fire(ctx context.Context, p Producer) (*db.Task, error) {
	if p.SkipIfQueued {
		queued, err := s.store.ByStatus(ctx, db.StatusQueued)
		if err != nil {
			return nil, err
		}
		for _, t := range queued {
			if slices.Contains(t.Tags, p.Tag()) {
				log.WithFields(log.Fields{"producer": p.Name, "task_id": t.ID}).Debug("Previous recurring task still queued, skipping")
				return nil, nil
			}
		}
	}

	tags := append(append([]string{}, p.Tags...), p.Tag())
	task, err := s.store.Enqueue(ctx, p.Description, p.Priority, tags)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"producer": p.Name, "task_id": task.ID}).Info("Recurring task enqueued")
	if s.onEnqueue != nil {
		s.onEnqueue(task)
	}
	return task, nil
}

// Start begins firing producers
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// NextRuns returns the next fire time of every producer
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]time.Time)
	for name, id := range s.entries {
		if entry := s.cron.Entry(id); !entry.Next.IsZero() {
			result[name] = entry.Next
		}
	}
	return result
}
