package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kylemclaren/claude-tasker/internal/api"
	"github.com/kylemclaren/claude-tasker/internal/config"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler loop in the foreground",
	Long: `Run the scheduler loop until interrupted. Tasks left in progress by an earlier
process are reconciled first. Recurring producers and webhooks from the config
file are active while the daemon runs.`,
	PreRun: bindLoopFlags,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runEngine(cfg, false)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler loop and the HTTP API",
	PreRun: func(cmd *cobra.Command, args []string) {
		bindLoopFlags(cmd, args)
		bindFlag("http.addr", cmd.Flags(), "addr")
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runEngine(cfg, true)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{daemonCmd, serveCmd} {
		cmd.Flags().Duration("poll-interval", 30*time.Second, "idle wait between queue polls")
		cmd.Flags().Int("max-retries", 3, "retries before a task is marked failed")
		cmd.Flags().Bool("escalate", false, "treat failed actions as a failed attempt")
	}
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
}

// bindLoopFlags binds the running command's flags, since daemon and serve share keys
func bindLoopFlags(cmd *cobra.Command, _ []string) {
	bindFlag("poll_interval", cmd.Flags(), "poll-interval")
	bindFlag("max_retry_attempts", cmd.Flags(), "max-retries")
	bindFlag("escalate_action_failures", cmd.Flags(), "escalate")
}

// runEngine runs the scheduler until SIGINT/SIGTERM or a store failure
func runEngine(cfg *config.Config, withHTTP bool) error {
	if err := ensureDataDir(cfg); err != nil {
		return err
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	serverErr := make(chan error, 1)
	if withHTTP {
		server := api.NewServer(eng.store, eng.queue)
		server.SetSchedules(eng.recurring)
		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
				stop()
			}
		}()
		log.WithField("addr", cfg.HTTP.Addr).Info("API server listening")
	}

	eng.recurring.Start()
	log.WithFields(log.Fields{"pid": os.Getpid(), "db": cfg.DBPath()}).Info("claude-tasker started")

	runErr := eng.scheduler.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("API server shutdown incomplete")
		}
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	default:
	}
	log.Info("Shutting down")
	return runErr
}

// acquirePID writes the PID file, refusing when another live process holds it
func acquirePID(path string) (func(), error) {
	if pid, running := daemonRunning(path); running {
		return nil, fmt.Errorf("scheduler already running (PID %d)", pid)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

// daemonRunning checks the PID file and whether that process is alive
func daemonRunning(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// FindProcess always succeeds on Unix; signal 0 checks liveness
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}
