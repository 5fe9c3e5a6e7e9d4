package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/metrics"
	"github.com/kylemclaren/claude-tasker/internal/queue"
	"github.com/kylemclaren/claude-tasker/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive TUI",
	RunE:  runTUI,
}

// runTUI opens the TUI. When no daemon holds the PID file the scheduler runs in-process and
// logs go to tui.log in the data dir.
func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDataDir(cfg); err != nil {
		return err
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "tui.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	if err := setupLogging(cfg, logFile); err != nil {
		return err
	}

	if pid, running := daemonRunning(pidPath(cfg)); running {
		log.WithField("pid", pid).Info("Daemon running, TUI in client mode")
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return tui.Run(store)
	}

	release, err := acquirePID(pidPath(cfg))
	if err != nil {
		return err
	}
	defer release()

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := eng.scheduler.Run(ctx); err != nil {
			log.WithError(err).Error("In-process scheduler stopped")
		}
	}()
	eng.recurring.Start()

	err = tui.Run(notifyingStore{eng.store, eng.queue})
	cancel()
	<-done
	return err
}

// notifyingStore wakes the in-process scheduler after a task is added from the TUI
type notifyingStore struct {
	*db.DB
	queue *queue.Queue
}

func (s notifyingStore) Enqueue(ctx context.Context, description string, priority int, tags []string) (*db.Task, error) {
	task, err := s.DB.Enqueue(ctx, description, priority, tags)
	if err != nil {
		return nil, err
	}
	metrics.TasksEnqueued.WithLabelValues("tui").Inc()
	s.queue.Notify()
	return task, nil
}
