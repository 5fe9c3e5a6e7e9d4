package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

const logoIcon = "◆"

func (m Model) View() string {
	var content string

	switch m.currentView {
	case ViewList:
		content = m.renderList()
	case ViewAdd:
		content = m.renderForm()
	case ViewDetail:
		content = m.renderDetail()
	case ViewLog:
		content = m.renderLog()
	}

	baseView := appStyle.Render(content)
	if m.confirmDelete {
		return m.renderDeleteModal(baseView)
	}
	return baseView
}

// renderDeleteModal renders a centered confirmation over the base view
func (m Model) renderDeleteModal(baseView string) string {
	activeButtonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor).
		Padding(0, 3).
		MarginRight(2).
		Bold(true)

	inactiveButtonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#666666")).
		Padding(0, 3).
		MarginRight(2)

	yesBtn, noBtn := inactiveButtonStyle.Render("Yes"), activeButtonStyle.Render("No")
	if m.deleteConfirmFocus == 0 {
		yesBtn, noBtn = activeButtonStyle.Render("Yes"), inactiveButtonStyle.Render("No")
	}

	question := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		MarginBottom(1).
		Render(fmt.Sprintf("Delete queued task '%s'?", truncate(firstLine(m.deleteTaskDesc), 50)))

	hint := subtitleStyle.Render("←/→ to select • enter to confirm • esc to cancel")

	modal := modalStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
		question,
		"",
		lipgloss.JoinHorizontal(lipgloss.Center, yesBtn, noBtn),
		"",
		hint,
	))

	if m.width == 0 || m.height == 0 {
		return baseView + "\n" + modal
	}
	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		modal,
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(lipgloss.Color("#333333")),
	)
}

func (m Model) renderHeader() string {
	logo := logoIcon + " " + logoStyle.Render("Claude Tasker")
	if m.stats == nil {
		return logo
	}
	summary := fmt.Sprintf("queued %d • running %d • done today %d • failed %d",
		m.stats.Queued, m.stats.InProgress, m.stats.CompletedToday, m.stats.Failed)
	return logo + "  " + subtitleStyle.Render(summary)
}

func (m Model) renderList() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	filter := "all"
	if m.statusFilter != "" {
		filter = string(m.statusFilter)
	}
	b.WriteString(helpDescStyle.Render("filter: ") + helpKeyStyle.Render(filter))
	b.WriteString("\n\n")

	if m.searchMode {
		b.WriteString(searchBoxStyle.Render("/ " + m.searchInput.View()))
		b.WriteString("\n\n")
	}

	if m.stats != nil && m.stats.InProgress > 0 {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(statusRunning.Render("agent working"))
		b.WriteString("\n\n")
	}

	tasksToShow := m.getDisplayTasks()
	switch {
	case len(m.tasks) == 0 && m.statusFilter != "":
		b.WriteString(emptyBoxStyle.Render(fmt.Sprintf("No %s tasks\n\nPress 'f' to change the filter", m.statusFilter)))
	case len(m.tasks) == 0:
		b.WriteString(emptyBoxStyle.Render("The queue is empty\n\nPress 'a' to add a task"))
	case m.searchMode && len(tasksToShow) == 0:
		b.WriteString(emptyBoxStyle.Render("No tasks match your search\n\nPress 'esc' to clear"))
	default:
		b.WriteString(m.table.View())
	}
	b.WriteString("\n")

	b.WriteString(m.renderStatusLine())

	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.help.FullHelpView(keys.FullHelp()))
	} else {
		helpText := m.help.ShortHelpView(keys.ShortHelp())
		helpText += "  " + helpKeyStyle.Render("/") + helpDescStyle.Render(" search")
		b.WriteString(helpText)
	}

	return b.String()
}

func (m Model) renderStatusLine() string {
	if m.statusMsg == "" {
		return ""
	}
	if m.statusErr {
		return errorMsgStyle.Render("✗ "+m.statusMsg) + "\n"
	}
	return successMsgStyle.Render("✓ "+m.statusMsg) + "\n"
}

func (m Model) renderForm() string {
	var b strings.Builder

	b.WriteString(logoIcon + " " + logoStyle.Render("Add Task"))
	b.WriteString("\n\n")

	field := func(label string, idx int, view string) {
		b.WriteString(inputLabelStyle.Render(label))
		b.WriteString("\n")
		style := blurredInputStyle
		if m.formFocus == idx {
			style = focusedInputStyle
		}
		b.WriteString(style.Render(view))
		b.WriteString("\n\n")
	}

	field("Description", fieldDescription, m.descInput.View())
	field(fmt.Sprintf("Priority (%d-%d, 5 runs first)", db.MinPriority, db.MaxPriority), fieldPriority, m.priorityInput.View())
	field("Tags", fieldTags, m.tagsInput.View())

	if m.formError != "" {
		b.WriteString(errorMsgStyle.Render("✗ " + m.formError))
		b.WriteString("\n\n")
	}

	b.WriteString(helpKeyStyle.Render("tab") + helpDescStyle.Render(" next field • ") +
		helpKeyStyle.Render("ctrl+s") + helpDescStyle.Render(" queue • ") +
		helpKeyStyle.Render("esc") + helpDescStyle.Render(" cancel"))
	return b.String()
}

func (m Model) renderDetail() string {
	var b strings.Builder

	task := m.selectedTask
	b.WriteString(logoIcon + " ")
	b.WriteString(logoStyle.Render(task.ID))
	b.WriteString("  ")
	b.WriteString(statusStyle(task.Status).Render(statusLabel(task.Status)))
	b.WriteString("\n")
	b.WriteString(subtitleStyle.Render(truncate(firstLine(task.Description), m.width-8)))
	b.WriteString("\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n\n")

	b.WriteString(m.renderStatusLine())
	b.WriteString(helpKeyStyle.Render("↑/↓") + helpDescStyle.Render(" scroll • ") +
		helpKeyStyle.Render("r") + helpDescStyle.Render(" refresh • ") +
		helpKeyStyle.Render("esc") + helpDescStyle.Render(" back"))
	return b.String()
}

func statusStyle(s db.Status) lipgloss.Style {
	if style, ok := statusStyles[s]; ok {
		return style
	}
	return fg(queuedColor)
}

func (m Model) renderMarkdown(text string) string {
	if m.mdRenderer != nil {
		if rendered, err := m.mdRenderer.Render(text); err == nil {
			return rendered
		}
	}
	return text + "\n"
}

// renderDetailContent renders the task and its latest attempt for the viewport
func (m Model) renderDetailContent() string {
	task := m.selectedTask
	if task == nil {
		return ""
	}

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(inputLabelStyle.Render(fmt.Sprintf("%-10s", label)))
		b.WriteString(" ")
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Priority", fmt.Sprintf("%d", task.Priority))
	if len(task.Tags) > 0 {
		row("Tags", strings.Join(task.Tags, ", "))
	}
	row("Retries", fmt.Sprintf("%d", task.RetryCount))
	row("Created", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if task.StartedAt != nil {
		row("Started", task.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if task.FinishedAt != nil {
		row("Finished", task.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	b.WriteString("\n")
	b.WriteString(task.Description)
	b.WriteString("\n\n")

	outcome := task.ExecutionResult
	if outcome == nil {
		b.WriteString(emptyBoxStyle.Render("No attempts yet"))
		return b.String()
	}

	header := statusOK.Render("✓ SUCCEEDED")
	if !outcome.Succeeded {
		header = statusFail.Render("✗ FAILED")
	}
	b.WriteString(fmt.Sprintf("%s  attempt %d  %s  (%s)\n",
		header,
		outcome.Attempt,
		outcome.Timestamp.Local().Format("2006-01-02 15:04:05"),
		(time.Duration(outcome.DurationMs) * time.Millisecond).String()))
	b.WriteString(dividerStyle.Render(strings.Repeat("─", 60)))
	b.WriteString("\n")

	if outcome.FailureReason != "" {
		b.WriteString(statusFail.Render("Reason: "))
		b.WriteString(outcome.FailureReason)
		b.WriteString("\n\n")
	}

	if outcome.AgentResponseText != "" {
		b.WriteString(m.renderMarkdown(outcome.AgentResponseText))
	}

	for i, result := range outcome.ActionResults {
		b.WriteString(renderActionResult(i+1, result))
	}
	return b.String()
}

func renderActionResult(n int, r db.ActionResult) string {
	var b strings.Builder

	mark := statusOK.Render("✓")
	if !r.Succeeded() {
		mark = statusFail.Render("✗")
	}
	title := fmt.Sprintf("%s action %d: %s", mark, n, r.Kind)
	if r.Target != "" {
		title += " → " + r.Target
	}
	b.WriteString(fmt.Sprintf("%s  exit %d  (%dms)\n", title, r.ExitIndicator, r.DurationMs))

	if len(r.Steps) > 0 {
		for _, step := range r.Steps {
			b.WriteString(helpKeyStyle.Render("$ " + step.Command))
			b.WriteString("\n")
			writeIndented(&b, step.Output, dimRowStyle)
			writeIndented(&b, step.ErrorOutput, errorMsgStyle)
		}
	} else {
		writeIndented(&b, r.Output, dimRowStyle)
		writeIndented(&b, r.ErrorOutput, errorMsgStyle)
	}
	b.WriteString("\n")
	return b.String()
}

func writeIndented(b *strings.Builder, text string, style lipgloss.Style) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
}

func (m Model) renderLog() string {
	var b strings.Builder

	b.WriteString(logoIcon + " " + logoStyle.Render("Execution Log"))
	b.WriteString("  ")
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("%d entries", len(m.logEntries))))
	b.WriteString("\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n\n")

	b.WriteString(m.renderStatusLine())
	b.WriteString(helpKeyStyle.Render("↑/↓") + helpDescStyle.Render(" scroll • ") +
		helpKeyStyle.Render("r") + helpDescStyle.Render(" refresh • ") +
		helpKeyStyle.Render("esc") + helpDescStyle.Render(" back"))
	return b.String()
}

// renderLogContent lists log entries oldest first
func (m Model) renderLogContent() string {
	if len(m.logEntries) == 0 {
		return emptyBoxStyle.Render("No agent exchanges recorded yet")
	}

	var b strings.Builder
	for _, entry := range m.logEntries {
		b.WriteString(helpKeyStyle.Render(entry.Timestamp.Local().Format("2006-01-02 15:04:05")))
		b.WriteString("  ")
		b.WriteString(entry.TaskID)
		b.WriteString("  ")
		b.WriteString(subtitleStyle.Render(fmt.Sprintf("%d chars", entry.ResponseLength)))
		b.WriteString("\n")
		b.WriteString(truncate(firstLine(entry.TaskDescription), 80))
		b.WriteString("\n")
		writeIndented(&b, entry.ResponsePreview, dimRowStyle)
		b.WriteString(dividerStyle.Render(strings.Repeat("─", 60)))
		b.WriteString("\n")
	}
	return b.String()
}
