package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes still held by children after a kill
const waitDelay = 2 * time.Second

// SetProcessGroup starts cmd in its own process group and kills the whole group when
// the command's context ends. cmd must come from exec.CommandContext.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the whole group
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
}

// runProcess runs command through /bin/sh in its own process group so a timeout
// kills everything it spawned
func runProcess(ctx context.Context, dir, command string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	SetProcessGroup(cmd)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		return stdout, stderr, 0, nil
	case errors.As(runErr, &exitErr):
		code := exitErr.ExitCode()
		if code < 0 {
			// Killed by a signal
			code = ExitFailure
		}
		return stdout, stderr, code, nil
	default:
		return stdout, stderr, ExitFailure, runErr
	}
}
