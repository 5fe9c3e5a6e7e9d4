package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylemclaren/claude-tasker/internal/parser"
)

func setupTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.WorkDir = dir
	cfg.AllowedWriteDirs = []string{dir}
	cfg.CommandTimeout = 5 * time.Second
	cfg.CodeTimeout = 2 * time.Second
	return New(cfg), dir
}

func shell(commands ...string) parser.Action {
	return parser.Action{Kind: parser.KindShell, Commands: commands}
}

// TestExecute_ShellCapturesOutput - stdout and exit code are recorded per command
func TestExecute_ShellCapturesOutput(t *testing.T) {
	e, _ := setupTestExecutor(t)

	result := e.Execute(context.Background(), shell("echo hi", "echo bye"))

	assert.Equal(t, "shell-command", result.Kind)
	assert.Equal(t, 0, result.ExitIndicator)
	assert.Equal(t, "hi\nbye\n", result.Output)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "echo hi", result.Steps[0].Command)
	assert.Equal(t, "bye\n", result.Steps[1].Output)
}

// TestExecute_ShellRunsInWorkDir - commands start in the configured directory
func TestExecute_ShellRunsInWorkDir(t *testing.T) {
	e, dir := setupTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644))

	result := e.Execute(context.Background(), shell("ls"))

	assert.Equal(t, 0, result.ExitIndicator)
	assert.Contains(t, result.Output, "marker.txt")
}

// TestExecute_ShellFailureDoesNotAbort - later commands still run after a failure
func TestExecute_ShellFailureDoesNotAbort(t *testing.T) {
	e, _ := setupTestExecutor(t)

	result := e.Execute(context.Background(), shell("echo oops >&2; exit 3", "echo after", "exit 4"))

	assert.Equal(t, 3, result.ExitIndicator)
	assert.Contains(t, result.ErrorOutput, "oops")
	assert.Contains(t, result.Output, "after")
	require.Len(t, result.Steps, 3)
	assert.Equal(t, 4, result.Steps[2].ExitCode)
}

// TestExecute_ShellDependsOnPriorCommand - side effects are visible to the next command
func TestExecute_ShellDependsOnPriorCommand(t *testing.T) {
	e, _ := setupTestExecutor(t)

	results := e.ExecuteAll(context.Background(), []parser.Action{
		shell("echo data > shared.txt"),
		shell("cat shared.txt"),
	})

	require.Len(t, results, 2)
	assert.Equal(t, "data\n", results[1].Output)
}

// TestExecute_ShellTimeout - a command exceeding its ceiling is killed
func TestExecute_ShellTimeout(t *testing.T) {
	e, _ := setupTestExecutor(t)
	e.cfg.CommandTimeout = 100 * time.Millisecond

	start := time.Now()
	result := e.Execute(context.Background(), shell("sleep 5"))

	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, ExitTimeout, result.ExitIndicator)
	assert.Contains(t, result.ErrorOutput, "timed out")
}

// TestExecute_BlockedCommand - deny-listed commands never run
func TestExecute_BlockedCommand(t *testing.T) {
	e, dir := setupTestExecutor(t)

	result := e.Execute(context.Background(), shell("sudo touch "+filepath.Join(dir, "nope")))

	assert.Equal(t, ExitBlocked, result.ExitIndicator)
	assert.Contains(t, result.ErrorOutput, "blocked dangerous command")
	assert.NoFileExists(t, filepath.Join(dir, "nope"))
}

// TestExecute_CodePrint - embedded code output is captured
func TestExecute_CodePrint(t *testing.T) {
	e, _ := setupTestExecutor(t)

	result := e.Execute(context.Background(), parser.Action{
		Kind:    parser.KindCode,
		Payload: "x = 1\nprint(x)\nprint(json.encode({\"a\": [1, 2]}))",
	})

	assert.Equal(t, 0, result.ExitIndicator)
	assert.Equal(t, "1\n{\"a\":[1,2]}\n", result.Output)
}

// TestExecute_CodeError - runtime errors produce the failure marker
func TestExecute_CodeError(t *testing.T) {
	e, _ := setupTestExecutor(t)

	result := e.Execute(context.Background(), parser.Action{Kind: parser.KindCode, Payload: "print('before')\nfail('boom')"})

	assert.Equal(t, ExitFailure, result.ExitIndicator)
	assert.Equal(t, "before\n", result.Output)
	assert.Contains(t, result.ErrorOutput, "boom")
}

// TestExecute_CodeNoHostAccess - names outside the sandbox are undefined
func TestExecute_CodeNoHostAccess(t *testing.T) {
	e, _ := setupTestExecutor(t)

	for _, code := range []string{"open('/etc/passwd')", "os.system('ls')", "load('os', 'x')"} {
		result := e.Execute(context.Background(), parser.Action{Kind: parser.KindCode, Payload: code})
		assert.Equal(t, ExitFailure, result.ExitIndicator, code)
	}
}

// TestExecute_CodeStepLimit - runaway loops are stopped
func TestExecute_CodeStepLimit(t *testing.T) {
	e, _ := setupTestExecutor(t)
	e.cfg.CodeMaxSteps = 10_000

	result := e.Execute(context.Background(), parser.Action{Kind: parser.KindCode, Payload: "while True:\n    pass"})

	assert.Equal(t, ExitFailure, result.ExitIndicator)
	assert.NotEmpty(t, result.ErrorOutput)
}

// TestExecute_CodeSyntaxError - invalid code is reported, not panicked
func TestExecute_CodeSyntaxError(t *testing.T) {
	e, _ := setupTestExecutor(t)

	result := e.Execute(context.Background(), parser.Action{Kind: parser.KindCode, Payload: "def ("})

	assert.Equal(t, ExitFailure, result.ExitIndicator)
	assert.NotEmpty(t, result.ErrorOutput)
}

// TestExecute_FileWrite - files are written inside allowed directories
func TestExecute_FileWrite(t *testing.T) {
	e, dir := setupTestExecutor(t)

	result := e.Execute(context.Background(), parser.Action{
		Kind:    parser.KindFileWrite,
		Path:    "notes/out.txt",
		Payload: "hello",
	})

	assert.Equal(t, 0, result.ExitIndicator, result.ErrorOutput)
	data, err := os.ReadFile(filepath.Join(dir, "notes", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

// TestExecute_FileWriteOutsideAllowed - paths escaping allowed directories are refused
func TestExecute_FileWriteOutsideAllowed(t *testing.T) {
	e, _ := setupTestExecutor(t)

	for _, path := range []string{"/etc/claude-tasker-test", "../escape.txt"} {
		result := e.Execute(context.Background(), parser.Action{Kind: parser.KindFileWrite, Path: path, Payload: "x"})
		assert.Equal(t, ExitBlocked, result.ExitIndicator, path)
		assert.True(t, strings.Contains(result.ErrorOutput, "not allowed"), result.ErrorOutput)
	}
}

// TestExecuteAll_NeverShortCircuits - every action gets a result in order
func TestExecuteAll_NeverShortCircuits(t *testing.T) {
	e, _ := setupTestExecutor(t)

	results := e.ExecuteAll(context.Background(), []parser.Action{
		shell("exit 1"),
		{Kind: parser.KindCode, Payload: "fail('x')"},
		{Kind: "unknown"},
		shell("echo last"),
	})

	require.Len(t, results, 4)
	assert.Equal(t, 1, results[0].ExitIndicator)
	assert.Equal(t, ExitFailure, results[1].ExitIndicator)
	assert.Equal(t, ExitFailure, results[2].ExitIndicator)
	assert.Equal(t, "last\n", results[3].Output)
}

// TestExecuteAll_Empty - no actions yields an empty result list
func TestExecuteAll_Empty(t *testing.T) {
	e, _ := setupTestExecutor(t)
	results := e.ExecuteAll(context.Background(), nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}
