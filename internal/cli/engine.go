package cli

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/kylemclaren/claude-tasker/internal/agent"
	"github.com/kylemclaren/claude-tasker/internal/config"
	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/executor"
	"github.com/kylemclaren/claude-tasker/internal/metrics"
	"github.com/kylemclaren/claude-tasker/internal/queue"
	"github.com/kylemclaren/claude-tasker/internal/recurring"
	"github.com/kylemclaren/claude-tasker/internal/scheduler"
	"github.com/kylemclaren/claude-tasker/internal/webhook"
)

// engine bundles the components a running process needs
type engine struct {
	store     *db.DB
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	recurring *recurring.Scheduler
}

func openStore(cfg *config.Config) (*db.DB, error) {
	if err := ensureDataDir(cfg); err != nil {
		return nil, err
	}
	store, err := db.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}
	return store, nil
}

// newEngine wires store, queue, agent, executor and notifier into a scheduler
func newEngine(cfg *config.Config) (*engine, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	client, err := agent.New(cfg.AgentClientConfig())
	if err != nil {
		store.Close()
		return nil, err
	}

	q := queue.New(store)
	opts := []scheduler.Option{
		scheduler.WithPollInterval(cfg.PollInterval),
		scheduler.WithMaxRetries(cfg.MaxRetryAttempts),
		scheduler.WithEscalation(cfg.EscalateActionFailures),
	}
	if n := webhook.NewNotifier(webhook.Config{DiscordURL: cfg.Webhooks.Discord, SlackURL: cfg.Webhooks.Slack}); n != nil {
		opts = append(opts, scheduler.WithNotifier(n))
	}
	sched := scheduler.New(store, q, client, executor.New(cfg.ExecutorRunConfig()), opts...)

	producers := recurring.New(store, func(*db.Task) {
		metrics.TasksEnqueued.WithLabelValues("recurring").Inc()
		q.Notify()
	})
	for _, p := range cfg.Recurring {
		if err := producers.Add(p); err != nil {
			store.Close()
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"db":        cfg.DBPath(),
		"backend":   cfg.Agent.Backend,
		"model":     cfg.Agent.Model,
		"work_dir":  cfg.Executor.WorkDir,
		"recurring": len(cfg.Recurring),
	}).Debug("Engine configured")

	return &engine{store: store, queue: q, scheduler: sched, recurring: producers}, nil
}

// Close stops producers, waits for pending notifications, then closes the store
func (e *engine) Close() error {
	e.recurring.Stop()
	e.scheduler.Close()
	return e.store.Close()
}
