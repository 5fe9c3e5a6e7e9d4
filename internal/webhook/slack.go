package webhook

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// Slack handles Slack webhook notifications
type Slack struct {
	client *http.Client
}

// SlackBlock represents a Slack Block Kit block
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackTextObj  `json:"text,omitempty"`
	Fields   []SlackTextObj `json:"fields,omitempty"`
	Elements []SlackTextObj `json:"elements,omitempty"`
}

// SlackTextObj represents a Slack text object
type SlackTextObj struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackAttachment represents a Slack attachment (for colored sidebar)
type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackPayload represents the webhook payload
type SlackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// BuildSlackPayload renders a finished task as Slack blocks
func BuildSlackPayload(task *db.Task) SlackPayload {
	// Section text is capped at 3000 characters
	s := summarize(task, 2500)

	color, emoji := "#00FF00", ":white_check_mark:"
	if task.Status == db.StatusFailed {
		color, emoji = "#FF0000", ":x:"
	}

	body := slackMarkdown(s.body)
	if body == "" {
		body = "_No response_"
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackTextObj{Type: "plain_text", Text: clip(fmt.Sprintf("%s Task %s: %s", emoji, s.status, s.title), 150), Emoji: true},
		},
		{
			Type: "section",
			Fields: []SlackTextObj{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Priority:*\n%d/%d", task.Priority, db.MaxPriority)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Attempts:*\n%d", s.attempts)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Actions:*\n%s", s.actions)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Duration:*\n%s", s.duration)},
			},
		},
		{Type: "divider"},
		{Type: "section", Text: &SlackTextObj{Type: "mrkdwn", Text: body}},
	}

	if s.failure != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackTextObj{Type: "mrkdwn", Text: fmt.Sprintf(":warning: *Failure:*\n```%s```", s.failure)},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type:     "context",
		Elements: []SlackTextObj{{Type: "mrkdwn", Text: fmt.Sprintf("Claude Tasker · `%s`", task.ID)}},
	})

	return SlackPayload{
		Text:        fmt.Sprintf("Task %s: %s", s.status, s.title),
		Attachments: []SlackAttachment{{Color: color, Blocks: blocks}},
	}
}

// SendResult posts a task result to Slack
func (s *Slack) SendResult(ctx context.Context, webhookURL string, task *db.Task) error {
	return postJSON(ctx, s.client, webhookURL, BuildSlackPayload(task))
}

var (
	mdBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	mdHeader = regexp.MustCompile(`^\s*#{1,6}\s+(.*)$`)
)

// slackMarkdown converts common markdown to Slack mrkdwn, leaving code blocks alone
func slackMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = mdBold.ReplaceAllString(line, "*$1*")
		line = mdLink.ReplaceAllString(line, "<$2|$1>")
		line = mdHeader.ReplaceAllString(line, "*$1*")
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
