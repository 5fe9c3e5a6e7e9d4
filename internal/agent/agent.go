package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// Backend names
const (
	BackendAPI = "api"
	BackendCLI = "cli"
)

// Response is the raw reply to one task attempt
type Response struct {
	Text         string        `json:"text"`
	Backend      string        `json:"backend"`
	Model        string        `json:"model,omitempty"`
	StopReason   string        `json:"stop_reason,omitempty"`
	InputTokens  int64         `json:"input_tokens,omitempty"`
	OutputTokens int64         `json:"output_tokens,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Client sends one task to the agent and returns its reply. Implementations make exactly one
// remote call per Invoke and never retry internally.
type Client interface {
	Invoke(ctx context.Context, task *db.Task) (*Response, error)
}

// Func adapts a plain function to the Client interface
type Func func(ctx context.Context, task *db.Task) (*Response, error)

// Invoke calls f
func (f Func) Invoke(ctx context.Context, task *db.Task) (*Response, error) {
	return f(ctx, task)
}

// Config selects and tunes the agent backend
type Config struct {
	Backend     string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
	APIKey      string
	BaseURL     string
	CLIPath     string
}

// DefaultConfig returns the agent defaults
func DefaultConfig() Config {
	return Config{
		Backend:     BackendAPI,
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   4000,
		Temperature: 0.7,
		Timeout:     5 * time.Minute,
		CLIPath:     "claude",
	}
}

// New creates the client for the configured backend
func New(cfg Config) (Client, error) {
	switch cfg.Backend {
	case BackendAPI, "":
		return NewAPIClient(cfg)
	case BackendCLI:
		return NewCLIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q", cfg.Backend)
	}
}

// UnavailableError is returned when the remote call could not be completed
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("agent unavailable (%s): %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// TimeoutError is returned when no reply arrived within the configured bound
type TimeoutError struct {
	Backend string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent timed out (%s) after %s", e.Backend, e.After)
}
