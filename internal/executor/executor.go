package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/parser"
)

// Exit indicators recorded for failures that have no process exit code
const (
	ExitFailure = -1
	ExitTimeout = 124
	ExitBlocked = 126
)

// maxOutputBytes caps captured stdout and stderr per step
const maxOutputBytes = 1 << 20

// Config controls how actions are run
type Config struct {
	WorkDir          string
	CommandTimeout   time.Duration
	CodeTimeout      time.Duration
	CodeMaxSteps     uint64
	BlockedCommands  []string
	AllowedWriteDirs []string
}

// DefaultConfig returns the executor defaults
func DefaultConfig() Config {
	return Config{
		WorkDir:         ".",
		CommandTimeout:  2 * time.Minute,
		CodeTimeout:     10 * time.Second,
		CodeMaxSteps:    10_000_000,
		BlockedCommands: DefaultBlockedCommands(),
	}
}

// ActionExecutionError describes why one action failed. It is recorded into the
// action result and never returned from ExecuteAll.
type ActionExecutionError struct {
	Kind parser.Kind
	Err  error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("%s action failed: %v", e.Kind, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// Executor runs parsed actions one at a time
type Executor struct {
	cfg      Config
	blocked  *DenyList
	writable []string
}

// New creates a new executor
func New(cfg Config) *Executor {
	defaults := DefaultConfig()
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaults.WorkDir
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	if cfg.CodeTimeout <= 0 {
		cfg.CodeTimeout = defaults.CodeTimeout
	}
	if cfg.CodeMaxSteps == 0 {
		cfg.CodeMaxSteps = defaults.CodeMaxSteps
	}
	if cfg.BlockedCommands == nil {
		cfg.BlockedCommands = defaults.BlockedCommands
	}
	if abs, err := filepath.Abs(cfg.WorkDir); err == nil {
		cfg.WorkDir = abs
	}

	dirs := cfg.AllowedWriteDirs
	if len(dirs) == 0 {
		dirs = []string{cfg.WorkDir, os.TempDir()}
	}
	writable := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if abs, err := filepath.Abs(dir); err == nil {
			writable = append(writable, filepath.Clean(abs))
		}
	}

	return &Executor{
		cfg:      cfg,
		blocked:  NewDenyList(cfg.BlockedCommands),
		writable: writable,
	}
}

// Execute runs a single action. Failures are reported in the result, never returned.
func (e *Executor) Execute(ctx context.Context, action parser.Action) (result db.ActionResult) {
	start := time.Now()
	result = db.ActionResult{Kind: string(action.Kind)}

	defer func() {
		if r := recover(); r != nil {
			result.ExitIndicator = ExitFailure
			result.ErrorOutput = appendLine(result.ErrorOutput,
				(&ActionExecutionError{Kind: action.Kind, Err: fmt.Errorf("panic: %v", r)}).Error())
		}
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	switch action.Kind {
	case parser.KindShell:
		e.runShell(ctx, action.Commands, &result)
	case parser.KindCode:
		e.runCode(ctx, action.Payload, &result)
	case parser.KindFileWrite:
		e.writeFile(action.Path, action.Payload, &result)
	default:
		result.ExitIndicator = ExitFailure
		result.ErrorOutput = (&ActionExecutionError{
			Kind: action.Kind,
			Err:  errors.New("unsupported action kind"),
		}).Error()
	}

	log.WithFields(log.Fields{
		"kind":        action.Kind,
		"exit":        result.ExitIndicator,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("action finished")

	return result
}

// ExecuteAll runs actions strictly in order. Every action is attempted regardless of
// earlier failures.
func (e *Executor) ExecuteAll(ctx context.Context, actions []parser.Action) []db.ActionResult {
	results := make([]db.ActionResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, e.Execute(ctx, action))
	}
	return results
}

// runShell runs each command line as its own process
func (e *Executor) runShell(ctx context.Context, commands []string, result *db.ActionResult) {
	var stdout, stderr strings.Builder
	for _, command := range commands {
		step := e.runCommand(ctx, command)
		result.Steps = append(result.Steps, step)

		stdout.WriteString(step.Output)
		if step.ErrorOutput != "" {
			stderr.WriteString(step.ErrorOutput)
			if !strings.HasSuffix(step.ErrorOutput, "\n") {
				stderr.WriteString("\n")
			}
		}
		// First non-zero code wins
		if result.ExitIndicator == 0 && step.ExitCode != 0 {
			result.ExitIndicator = step.ExitCode
		}
	}
	result.Target = strings.Join(commands, "; ")
	result.Output = stdout.String()
	result.ErrorOutput = stderr.String()
}

func (e *Executor) runCommand(ctx context.Context, command string) db.StepResult {
	start := time.Now()
	step := db.StepResult{Command: command}

	if reason, blocked := e.blocked.Check(command); blocked {
		step.ExitCode = ExitBlocked
		step.ErrorOutput = fmt.Sprintf("blocked dangerous command: %s", reason)
		log.WithField("command", command).Warn("Blocked dangerous command")
		return step
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()

	out, errOut, code, err := runProcess(runCtx, e.cfg.WorkDir, command)
	step.Output = truncate(out)
	step.ErrorOutput = truncate(errOut)
	step.ExitCode = code

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		step.ExitCode = ExitTimeout
		step.ErrorOutput = appendLine(step.ErrorOutput, fmt.Sprintf("command timed out after %s", e.cfg.CommandTimeout))
	case err != nil:
		step.ErrorOutput = appendLine(step.ErrorOutput, err.Error())
	}

	step.DurationMs = time.Since(start).Milliseconds()
	return step
}

// writeFile writes content to a path inside one of the allowed directories
func (e *Executor) writeFile(path, content string, result *db.ActionResult) {
	result.Target = path

	resolved, err := e.resolveWritePath(path)
	if err != nil {
		result.ExitIndicator = ExitBlocked
		result.ErrorOutput = (&ActionExecutionError{Kind: parser.KindFileWrite, Err: err}).Error()
		return
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		result.ExitIndicator = ExitFailure
		result.ErrorOutput = (&ActionExecutionError{Kind: parser.KindFileWrite, Err: fmt.Errorf("failed to create directory: %w", err)}).Error()
		return
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		result.ExitIndicator = ExitFailure
		result.ErrorOutput = (&ActionExecutionError{Kind: parser.KindFileWrite, Err: fmt.Errorf("failed to write file: %w", err)}).Error()
		return
	}

	result.Output = fmt.Sprintf("wrote %d bytes to %s\n", len(content), resolved)
}

func (e *Executor) resolveWritePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty file path")
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.cfg.WorkDir, path)
	}
	path = filepath.Clean(path)

	for _, dir := range e.writable {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "." {
			return path, nil
		}
	}
	return "", fmt.Errorf("file path not allowed: %s", path)
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n[output truncated]\n"
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line
}
