package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/executor"
)

// CLIClient runs the claude CLI in print mode
type CLIClient struct {
	cfg Config
}

// NewCLIClient creates a CLI-backed client
func NewCLIClient(cfg Config) *CLIClient {
	return &CLIClient{cfg: withDefaults(cfg)}
}

// Invoke runs one non-interactive CLI call and returns its stdout
func (c *CLIClient) Invoke(ctx context.Context, task *db.Task) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	// -p enables print mode (non-interactive), prompt is positional arg
	args := []string{"-p", "--output-format", "text", "--append-system-prompt", SystemPreamble()}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	args = append(args, TaskPrompt(task))

	cmd := exec.CommandContext(ctx, c.cfg.CLIPath, args...)
	executor.SetProcessGroup(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Backend: BackendCLI, After: c.cfg.Timeout}
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		log.WithFields(log.Fields{
			"task_id": task.ID,
			"cli":     c.cfg.CLIPath,
		}).WithError(err).Warn("Agent CLI call failed")
		return nil, &UnavailableError{Backend: BackendCLI, Err: err}
	}

	return &Response{
		Text:     stdout.String(),
		Backend:  BackendCLI,
		Model:    c.cfg.Model,
		Duration: time.Since(start),
	}, nil
}
