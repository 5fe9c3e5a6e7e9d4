package agent

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	log "github.com/sirupsen/logrus"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// APIClient calls the Anthropic Messages API
type APIClient struct {
	client anthropic.Client
	cfg    Config
}

// NewAPIClient creates an API-backed client. The key falls back to CLAUDE_API_KEY and
// then ANTHROPIC_API_KEY.
func NewAPIClient(cfg Config) (*APIClient, error) {
	cfg = withDefaults(cfg)

	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("CLAUDE_API_KEY")
	}
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, errors.New("no API key configured: set agent.api_key, CLAUDE_API_KEY or ANTHROPIC_API_KEY")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		// Retries belong to the task retry budget
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &APIClient{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

// Invoke sends the preamble and task prompt as one Messages request
func (c *APIClient) Invoke(ctx context.Context, task *db.Task) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: anthropic.Float(c.cfg.Temperature),
		System:      []anthropic.TextBlockParam{{Text: SystemPreamble()}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(TaskPrompt(task))),
		},
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Backend: BackendAPI, After: c.cfg.Timeout}
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			log.WithFields(log.Fields{
				"task_id": task.ID,
				"status":  apiErr.StatusCode,
			}).Warn("Agent API request failed")
		}
		return nil, &UnavailableError{Backend: BackendAPI, Err: err}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Text:         text.String(),
		Backend:      BackendAPI,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		Duration:     time.Since(start),
	}, nil
}

func withDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.CLIPath == "" {
		cfg.CLIPath = defaults.CLIPath
	}
	return cfg
}
