package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// Discord handles Discord webhook notifications
type Discord struct {
	client *http.Client
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordPayload represents the webhook payload
type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// BuildDiscordPayload renders a finished task as a Discord embed
func BuildDiscordPayload(task *db.Task) DiscordPayload {
	// Embed descriptions are capped at 4096 characters
	s := summarize(task, 3500)

	color, emoji := 0x00FF00, "✅"
	if task.Status == db.StatusFailed {
		color, emoji = 0xFF0000, "❌"
	}

	description := s.body
	if description == "" {
		description = "*No response*"
	}

	embed := DiscordEmbed{
		Title:       fmt.Sprintf("%s Task %s: %s", emoji, s.status, s.title),
		Description: description,
		Color:       color,
		Fields: []EmbedField{
			{Name: "Priority", Value: fmt.Sprintf("%d/%d", task.Priority, db.MaxPriority), Inline: true},
			{Name: "Attempts", Value: fmt.Sprintf("%d", s.attempts), Inline: true},
			{Name: "Actions", Value: s.actions, Inline: true},
			{Name: "Duration", Value: s.duration, Inline: true},
			{Name: "Task ID", Value: fmt.Sprintf("`%s`", task.ID), Inline: true},
		},
		Timestamp: s.at.Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: "Claude Tasker"},
	}

	if s.failure != "" {
		embed.Fields = append(embed.Fields, EmbedField{
			Name:  "⚠️ Failure",
			Value: fmt.Sprintf("```\n%s\n```", s.failure),
		})
	}

	return DiscordPayload{Embeds: []DiscordEmbed{embed}}
}

// SendResult posts a task result to Discord
func (d *Discord) SendResult(ctx context.Context, webhookURL string, task *db.Task) error {
	return postJSON(ctx, d.client, webhookURL, BuildDiscordPayload(task))
}
