package version

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/kylemclaren/claude-tasker/internal/version.Version=..."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line build description
func Info() string {
	return fmt.Sprintf("claude-tasker %s (commit %s, built %s, %s/%s)", Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}
