package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/parser"
)

// codeFileOptions enables the language features agents tend to reach for
var codeFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// sandboxGlobals is the complete set of names code may use beyond the Starlark builtins.
// Starlark has no filesystem, process or network access of its own.
func sandboxGlobals() starlark.StringDict {
	return starlark.StringDict{
		"json": json.Module,
		"math": math.Module,
		"time": time.Module,
	}
}

// runCode evaluates an embedded-code payload in a fresh Starlark thread
func (e *Executor) runCode(ctx context.Context, code string, result *db.ActionResult) {
	var out strings.Builder
	thread := &starlark.Thread{
		Name: "action",
		Print: func(_ *starlark.Thread, msg string) {
			if out.Len() < maxOutputBytes {
				out.WriteString(msg)
				out.WriteString("\n")
			}
		},
	}
	thread.SetMaxExecutionSteps(e.cfg.CodeMaxSteps)

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CodeTimeout)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			thread.Cancel(runCtx.Err().Error())
		case <-done:
		}
	}()

	_, err := starlark.ExecFileOptions(codeFileOptions, thread, "action.star", code, sandboxGlobals())
	result.Output = out.String()
	if err == nil {
		return
	}

	result.ExitIndicator = ExitFailure
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("code timed out after %s: %w", e.cfg.CodeTimeout, err)
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		result.ErrorOutput = (&ActionExecutionError{Kind: parser.KindCode, Err: err}).Error() + "\n" + evalErr.Backtrace()
		return
	}
	result.ErrorOutput = (&ActionExecutionError{Kind: parser.KindCode, Err: err}).Error()
}
