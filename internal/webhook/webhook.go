package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/metrics"
	"github.com/kylemclaren/claude-tasker/internal/retry"
)

// Config holds the destination URLs. Empty URLs are skipped.
type Config struct {
	DiscordURL string
	SlackURL   string
	Timeout    time.Duration
	Retry      retry.Policy
}

// Notifier posts task results to Discord and Slack when a task reaches a terminal state
type Notifier struct {
	cfg     Config
	discord *Discord
	slack   *Slack
}

// NewNotifier creates a notifier. It returns nil when no destination is configured.
func NewNotifier(cfg Config) *Notifier {
	if cfg.DiscordURL == "" && cfg.SlackURL == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.Policy{Attempts: 3, Delay: time.Second}
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return &Notifier{
		cfg:     cfg,
		discord: &Discord{client: client},
		slack:   &Slack{client: client},
	}
}

// Notify delivers the task result to every configured destination. Non-terminal tasks
// are ignored. Delivery failures are logged and returned, never fatal to the caller.
func (n *Notifier) Notify(ctx context.Context, task *db.Task) error {
	if n == nil || !task.Status.IsTerminal() {
		return nil
	}

	var firstErr error
	deliver := func(provider string, send func(ctx context.Context) error) {
		err := retry.Do(ctx, n.retryPolicy(provider, task), send)
		result := "ok"
		if err != nil {
			result = "error"
			log.WithFields(log.Fields{"task_id": task.ID, "provider": provider}).WithError(err).Warn("Webhook delivery failed")
			if firstErr == nil {
				firstErr = err
			}
		}
		metrics.WebhookDeliveries.WithLabelValues(provider, result).Inc()
	}

	if n.cfg.DiscordURL != "" {
		deliver("discord", func(ctx context.Context) error {
			return n.discord.SendResult(ctx, n.cfg.DiscordURL, task)
		})
	}
	if n.cfg.SlackURL != "" {
		deliver("slack", func(ctx context.Context) error {
			return n.slack.SendResult(ctx, n.cfg.SlackURL, task)
		})
	}
	return firstErr
}

func (n *Notifier) retryPolicy(provider string, task *db.Task) retry.Policy {
	p := n.cfg.Retry
	p.OnRetry = func(attempt int, err error) {
		log.WithFields(log.Fields{"task_id": task.ID, "provider": provider, "attempt": attempt}).WithError(err).Debug("Retrying webhook delivery")
	}
	return p
}

// postJSON sends payload and treats 4xx responses as permanent failures
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// summary is the provider-neutral view of a finished task
type summary struct {
	title    string
	status   string
	body     string
	failure  string
	attempts int
	actions  string
	duration string
	at       time.Time
}

func summarize(task *db.Task, bodyLimit int) summary {
	s := summary{
		title:    clip(task.Description, 200),
		status:   string(task.Status),
		attempts: task.Attempt(),
		actions:  "none",
		duration: "-",
		at:       task.UpdatedAt,
	}
	if task.StartedAt != nil && task.FinishedAt != nil {
		s.duration = task.FinishedAt.Sub(*task.StartedAt).Round(time.Second).String()
	}
	if out := task.ExecutionResult; out != nil {
		s.body = out.AgentResponseText
		s.failure = out.FailureReason
		if out.Attempt > 0 {
			s.attempts = out.Attempt
		}
		if n := len(out.ActionResults); n > 0 {
			s.actions = fmt.Sprintf("%d run, %d failed", n, out.FailedActions())
		}
	}
	s.body = clip(s.body, bodyLimit)
	s.failure = clip(s.failure, 500)
	return s
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
