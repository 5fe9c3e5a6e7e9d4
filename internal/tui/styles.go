package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// Palette
var (
	primaryColor = lipgloss.Color("#d97757")
	accentColor  = lipgloss.Color("#6a9bcc")
	dimTextColor = lipgloss.Color("#b0aea5")
	warningColor = primaryColor

	queuedColor    = dimTextColor
	runningColor   = lipgloss.Color("#e0a458")
	completedColor = lipgloss.Color("#788c5d")
	failedColor    = lipgloss.Color("#c45c4a")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func boxed(border lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
}

var (
	appStyle  = lipgloss.NewStyle().Padding(1, 2)
	logoStyle = fg(accentColor).Bold(true)

	subtitleStyle = fg(dimTextColor).Italic(true)
	dividerStyle  = fg(dimTextColor)
	helpKeyStyle  = fg(accentColor).Bold(true)
	helpDescStyle = fg(dimTextColor)

	// Indented command output in the detail view
	dimRowStyle = fg(dimTextColor).PaddingLeft(2)

	inputLabelStyle   = fg(accentColor).Bold(true)
	focusedInputStyle = boxed(primaryColor)
	blurredInputStyle = boxed(dimTextColor)
	searchBoxStyle    = boxed(accentColor)

	statusOK      = fg(completedColor).Bold(true)
	statusFail    = fg(failedColor).Bold(true)
	statusRunning = fg(runningColor).Bold(true)

	errorMsgStyle   = statusFail
	successMsgStyle = statusOK

	emptyBoxStyle = boxed(dimTextColor).
			Foreground(dimTextColor).
			Padding(2, 4).
			Align(lipgloss.Center)

	modalStyle = boxed(failedColor).
			Padding(1, 4).
			Align(lipgloss.Center)
)

// statusStyles colors the status column and headers
var statusStyles = map[db.Status]lipgloss.Style{
	db.StatusQueued:     fg(queuedColor),
	db.StatusInProgress: statusRunning,
	db.StatusCompleted:  statusOK,
	db.StatusFailed:     statusFail,
}

func tableStyles() table.Styles {
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(dimTextColor).
		BorderBottom(true).
		Bold(true).
		Foreground(accentColor)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor).
		Bold(true)
	return ts
}
