package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/kylemclaren/claude-tasker/internal/db"
)

// Store is the read side of the task store plus queued deletion and enqueue
type Store interface {
	Enqueue(ctx context.Context, description string, priority int, tags []string) (*db.Task, error)
	GetTask(ctx context.Context, id string) (*db.Task, error)
	ListTasks(ctx context.Context, filter db.TaskFilter) ([]*db.Task, error)
	DeleteQueued(ctx context.Context, id string) error
	ListLogEntries(ctx context.Context, filter db.LogFilter) ([]*db.LogEntry, error)
	Stats(ctx context.Context, now time.Time) (*db.Stats, error)
}

// View represents the current view
type View int

const (
	ViewList View = iota
	ViewAdd
	ViewDetail
	ViewLog
)

// KeyMap defines keybindings
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Add     key.Binding
	Delete  key.Binding
	Filter  key.Binding
	Log     key.Binding
	Enter   key.Binding
	Save    key.Binding
	Back    key.Binding
	Quit    key.Binding
	Refresh key.Binding
	Tab     key.Binding
	Help    key.Binding
}

var keys = KeyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Add:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	Delete:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete queued")),
	Filter:  key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "filter status")),
	Log:     key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "execution log")),
	Enter:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
	Save:    key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
	Back:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Add, k.Enter, k.Delete, k.Filter, k.Log, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter},
		{k.Add, k.Delete, k.Filter},
		{k.Log, k.Refresh, k.Quit},
	}
}

// statusFilters is the order the filter key cycles through
var statusFilters = []db.Status{"", db.StatusQueued, db.StatusInProgress, db.StatusCompleted, db.StatusFailed}

const refreshInterval = 2 * time.Second

// Model is the main TUI model
type Model struct {
	store Store

	// View state
	currentView View
	width       int
	height      int

	// List view
	tasks        []*db.Task
	stats        *db.Stats
	table        table.Model
	statusFilter db.Status

	// Delete confirmation
	confirmDelete      bool
	deleteTaskID       string
	deleteTaskDesc     string
	deleteConfirmFocus int // 0 = Yes, 1 = No

	// Search
	searchMode    bool
	searchInput   textinput.Model
	filteredTasks []*db.Task

	spinner spinner.Model

	help     help.Model
	showHelp bool

	// Add form
	descInput     textarea.Model
	priorityInput textinput.Model
	tagsInput     textinput.Model
	formFocus     int
	formError     string

	// Detail and log views
	selectedTask *db.Task
	logEntries   []*db.LogEntry
	viewport     viewport.Model
	mdRenderer   *glamour.TermRenderer

	// Status
	statusMsg   string
	statusErr   bool
	statusTimer int
}

// Form field indices
const (
	fieldDescription = iota
	fieldPriority
	fieldTags
	fieldCount
)

// Layout constants
const (
	minWidth           = 60
	maxTableWidth      = 160
	headerHeight       = 5
	footerHeight       = 4
	minTableHeight     = 5
	detailHeaderHeight = 5
	detailFooterHeight = 3
)

// calculateTableColumns returns column definitions sized for the given width
func calculateTableColumns(width int) []table.Column {
	const priorityWidth, statusWidth, retryWidth = 4, 13, 7

	// Description gets 5/8 of what the fixed columns leave, each time column 3/16
	remaining := clamp(width-4, minWidth, maxTableWidth) - priorityWidth - statusWidth - retryWidth - 10
	descWidth := max(remaining*5/8, 20)
	createdWidth := max(remaining*3/16, 12)
	finishedWidth := createdWidth

	return []table.Column{
		{Title: "P", Width: priorityWidth},
		{Title: "Description", Width: descWidth},
		{Title: "Status", Width: statusWidth},
		{Title: "Retries", Width: retryWidth},
		{Title: "Created", Width: createdWidth},
		{Title: "Finished", Width: finishedWidth},
	}
}

// NewModel creates a new TUI model
func NewModel(store Store) Model {
	m := Model{
		store:    store,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(fg(warningColor))),
		help:     help.New(),
		viewport: viewport.New(80, 20),
		table: table.New(
			table.WithColumns(calculateTableColumns(100)),
			table.WithFocused(true),
			table.WithHeight(10),
			table.WithStyles(tableStyles()),
		),
		searchInput: textinput.New(),
		mdRenderer:  newMarkdownRenderer(80),
	}
	m.help.Styles.ShortKey = helpKeyStyle
	m.help.Styles.ShortDesc = helpDescStyle
	m.searchInput.Placeholder = "Search by description, id or tag"
	m.searchInput.CharLimit = 100
	m.searchInput.Width = 30

	m.initForm()
	return m
}

func newMarkdownRenderer(wrap int) *glamour.TermRenderer {
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(wrap))
	if err != nil {
		return nil
	}
	return renderer
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func (m *Model) initForm() {
	width := m.formInputWidth()

	m.descInput = textarea.New()
	m.descInput.Placeholder = "Describe the task for the agent..."
	m.descInput.CharLimit = 10000
	m.descInput.ShowLineNumbers = false
	m.descInput.SetWidth(width + 2)
	m.descInput.SetHeight(5)

	m.priorityInput = textinput.New()
	m.priorityInput.Placeholder = "3"
	m.priorityInput.CharLimit = 1
	m.priorityInput.Width = 4

	m.tagsInput = textinput.New()
	m.tagsInput.Placeholder = "comma,separated,tags"
	m.tagsInput.CharLimit = 500
	m.tagsInput.Width = width

	m.formFocus = fieldDescription
	m.formError = ""
	m.descInput.Focus()
}

func (m *Model) formInputWidth() int {
	return clamp(m.width-12, 40, 100)
}

// resize lays every view out for a new terminal size
func (m *Model) resize(width, height int) {
	m.width, m.height = width, height

	m.table.SetColumns(calculateTableColumns(width))
	m.table.SetWidth(min(width-4, maxTableWidth))
	m.table.SetHeight(max(height-headerHeight-footerHeight-2, minTableHeight))

	m.viewport.Width = width - 6
	m.viewport.Height = max(height-detailHeaderHeight-detailFooterHeight-2, 5)

	m.help.Width = width
	m.descInput.SetWidth(m.formInputWidth() + 2)
	m.tagsInput.Width = m.formInputWidth()

	if renderer := newMarkdownRenderer(width - 10); renderer != nil {
		m.mdRenderer = renderer
	}
	m.updateTable()
}

func (m *Model) focusFormField(field int) {
	m.descInput.Blur()
	m.priorityInput.Blur()
	m.tagsInput.Blur()

	m.formFocus = field
	switch field {
	case fieldDescription:
		m.descInput.Focus()
	case fieldPriority:
		m.priorityInput.Focus()
	case fieldTags:
		m.tagsInput.Focus()
	}
}

func (m *Model) updateTable() {
	tasksToShow := m.getDisplayTasks()
	if len(tasksToShow) == 0 {
		m.table.SetRows([]table.Row{})
		return
	}

	columns := m.table.Columns()
	descWidth := 30
	if len(columns) >= 2 {
		descWidth = columns[1].Width - 2
	}

	rows := make([]table.Row, len(tasksToShow))
	for i, task := range tasksToShow {
		finished := "-"
		if task.FinishedAt != nil {
			finished = formatTime(*task.FinishedAt)
		}
		rows[i] = table.Row{
			strconv.Itoa(task.Priority),
			truncate(firstLine(task.Description), descWidth),
			statusLabel(task.Status),
			strconv.Itoa(task.RetryCount),
			formatTime(task.CreatedAt),
			finished,
		}
	}
	m.table.SetRows(rows)
}

func statusLabel(s db.Status) string {
	switch s {
	case db.StatusCompleted:
		return "✓ completed"
	case db.StatusFailed:
		return "✗ failed"
	case db.StatusInProgress:
		return "● in_progress"
	default:
		return "○ queued"
	}
}

func formatTime(t time.Time) string {
	t = t.Local()
	now := time.Now()
	if now.Sub(t) < 0 {
		return t.Format("Jan 02 15:04")
	}
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh %dm ago", int(diff.Hours()), int(diff.Minutes())%60)
	}
	return t.Format("Jan 02 15:04")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Messages
type tasksLoadedMsg struct {
	tasks []*db.Task
	stats *db.Stats
}
type taskCreatedMsg struct{ task *db.Task }
type taskDeletedMsg struct{ id string }
type taskLoadedMsg struct{ task *db.Task }
type logLoadedMsg struct{ entries []*db.LogEntry }
type errMsg struct{ err error }
type tickMsg time.Time

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadTasks(),
		m.spinner.Tick,
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (m *Model) loadTasks() tea.Cmd {
	store, filter := m.store, db.TaskFilter{Status: m.statusFilter}
	return func() tea.Msg {
		ctx, cancel := storeCtx()
		defer cancel()

		tasks, err := store.ListTasks(ctx, filter)
		if err != nil {
			return errMsg{err}
		}
		stats, err := store.Stats(ctx, time.Now())
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks: tasks, stats: stats}
	}
}

func (m *Model) loadTask(id string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx, cancel := storeCtx()
		defer cancel()

		task, err := store.GetTask(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return taskLoadedMsg{task}
	}
}

func (m *Model) loadLog() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx, cancel := storeCtx()
		defer cancel()

		entries, err := store.ListLogEntries(ctx, db.LogFilter{Limit: 200})
		if err != nil {
			return errMsg{err}
		}
		return logLoadedMsg{entries}
	}
}

func (m *Model) deleteTask(id string) tea.Cmd {
	store := m.store
	return func() tea.Msg {
		ctx, cancel := storeCtx()
		defer cancel()

		if err := store.DeleteQueued(ctx, id); err != nil {
			return errMsg{err}
		}
		return taskDeletedMsg{id}
	}
}

func (m *Model) saveTask() tea.Cmd {
	store := m.store
	description := strings.TrimSpace(m.descInput.Value())
	priorityText := strings.TrimSpace(m.priorityInput.Value())
	tags := splitTags(m.tagsInput.Value())

	return func() tea.Msg {
		priority := 3
		if priorityText != "" {
			p, err := strconv.Atoi(priorityText)
			if err != nil {
				return errMsg{fmt.Errorf("priority must be a number from %d to %d", db.MinPriority, db.MaxPriority)}
			}
			priority = p
		}

		ctx, cancel := storeCtx()
		defer cancel()

		task, err := store.Enqueue(ctx, description, priority, tags)
		if err != nil {
			return errMsg{err}
		}
		return taskCreatedMsg{task}
	}
}

func splitTags(s string) []string {
	var tags []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.statusMsg = msg
	m.statusErr = isErr
	m.statusTimer = 3 // ticks
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.currentView {
		case ViewList:
			return m.updateList(msg)
		case ViewAdd:
			return m.updateForm(msg)
		case ViewDetail, ViewLog:
			return m.updateViewport(msg)
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if m.statusTimer > 0 {
			m.statusTimer--
			if m.statusTimer == 0 {
				m.statusMsg = ""
			}
		}
		cmds = append(cmds, tickCmd(), m.loadTasks())
		if m.currentView == ViewDetail && m.selectedTask != nil && !m.selectedTask.Status.IsTerminal() {
			cmds = append(cmds, m.loadTask(m.selectedTask.ID))
		}

	case tasksLoadedMsg:
		m.tasks = msg.tasks
		m.stats = msg.stats
		if m.searchMode {
			m.filterTasks()
		}
		m.updateTable()

	case taskLoadedMsg:
		m.selectedTask = msg.task
		if m.currentView == ViewDetail {
			offset := m.viewport.YOffset
			m.viewport.SetContent(m.renderDetailContent())
			m.viewport.SetYOffset(offset)
		}

	case logLoadedMsg:
		m.logEntries = msg.entries
		if m.currentView == ViewLog {
			m.viewport.SetContent(m.renderLogContent())
			m.viewport.GotoBottom()
		}

	case taskCreatedMsg:
		m.setStatus("Task queued: "+msg.task.ID, false)
		m.currentView = ViewList
		cmds = append(cmds, m.loadTasks())

	case taskDeletedMsg:
		m.setStatus("Task deleted", false)
		cmds = append(cmds, m.loadTasks())

	case errMsg:
		if m.currentView == ViewAdd {
			m.formError = msg.err.Error()
		} else {
			m.setStatus("Error: "+msg.err.Error(), true)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) resetDelete() {
	m.confirmDelete = false
	m.deleteTaskID = ""
	m.deleteTaskDesc = ""
	m.deleteConfirmFocus = 1
}

func (m *Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.confirmDelete {
		switch msg.String() {
		case "left", "h":
			m.deleteConfirmFocus = 0
		case "right", "l":
			m.deleteConfirmFocus = 1
		case "tab":
			m.deleteConfirmFocus = (m.deleteConfirmFocus + 1) % 2
		case "y", "Y":
			id := m.deleteTaskID
			m.resetDelete()
			return m, m.deleteTask(id)
		case "enter":
			id, confirmed := m.deleteTaskID, m.deleteConfirmFocus == 0
			m.resetDelete()
			if confirmed {
				return m, m.deleteTask(id)
			}
		case "n", "N", "esc":
			m.resetDelete()
		}
		return m, nil
	}

	if m.searchMode && m.searchInput.Focused() {
		switch msg.String() {
		case "esc":
			m.searchMode = false
			m.searchInput.SetValue("")
			m.searchInput.Blur()
			m.filteredTasks = nil
			m.updateTable()
			return m, nil
		case "enter":
			m.searchInput.Blur()
			return m, nil
		default:
			m.searchInput, cmd = m.searchInput.Update(msg)
			m.filterTasks()
			m.updateTable()
			return m, cmd
		}
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc":
		if m.searchMode {
			m.searchMode = false
			m.searchInput.SetValue("")
			m.filteredTasks = nil
			m.updateTable()
		}
		return m, nil
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "/":
		m.searchMode = true
		m.searchInput.Focus()
		return m, textinput.Blink
	case "r":
		return m, m.loadTasks()
	case "f":
		m.statusFilter = nextFilter(m.statusFilter)
		m.table.SetCursor(0)
		return m, m.loadTasks()
	case "l":
		m.currentView = ViewLog
		m.viewport.SetContent(m.renderLogContent())
		return m, m.loadLog()
	case "a":
		m.currentView = ViewAdd
		m.initForm()
		return m, textarea.Blink
	case "d":
		if task := m.selected(); task != nil {
			if task.Status != db.StatusQueued {
				m.setStatus("Only queued tasks can be deleted", true)
				return m, nil
			}
			m.confirmDelete = true
			m.deleteTaskID = task.ID
			m.deleteTaskDesc = task.Description
			m.deleteConfirmFocus = 1
		}
		return m, nil
	case "enter":
		if task := m.selected(); task != nil {
			m.selectedTask = task
			m.currentView = ViewDetail
			m.viewport.SetContent(m.renderDetailContent())
			m.viewport.GotoTop()
			return m, m.loadTask(task.ID)
		}
	default:
		if len(m.getDisplayTasks()) > 0 {
			m.table, cmd = m.table.Update(msg)
		}
	}

	return m, cmd
}

func nextFilter(current db.Status) db.Status {
	for i, s := range statusFilters {
		if s == current {
			return statusFilters[(i+1)%len(statusFilters)]
		}
	}
	return ""
}

// selected returns the task under the table cursor
func (m *Model) selected() *db.Task {
	tasks := m.getDisplayTasks()
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(tasks) {
		return nil
	}
	return tasks[idx]
}

// getDisplayTasks returns the tasks currently being displayed (filtered or all)
func (m *Model) getDisplayTasks() []*db.Task {
	if m.searchMode && m.searchInput.Value() != "" {
		return m.filteredTasks
	}
	return m.tasks
}

// filterTasks matches the search query against descriptions, tags and IDs
func (m *Model) filterTasks() {
	query := strings.ToLower(strings.TrimSpace(m.searchInput.Value()))
	if query == "" {
		m.filteredTasks = m.tasks
		return
	}

	m.filteredTasks = nil
	for _, task := range m.tasks {
		if strings.Contains(strings.ToLower(task.Description), query) ||
			strings.Contains(strings.ToLower(task.ID), query) ||
			strings.Contains(strings.ToLower(strings.Join(task.Tags, " ")), query) {
			m.filteredTasks = append(m.filteredTasks, task)
		}
	}
}

func (m *Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc":
		m.currentView = ViewList
		return m, nil
	case "ctrl+s":
		if strings.TrimSpace(m.descInput.Value()) == "" {
			m.formError = "Description is required"
			return m, nil
		}
		m.formError = ""
		return m, m.saveTask()
	case "tab":
		m.focusFormField((m.formFocus + 1) % fieldCount)
		return m, nil
	case "shift+tab":
		m.focusFormField((m.formFocus + fieldCount - 1) % fieldCount)
		return m, nil
	}

	switch m.formFocus {
	case fieldDescription:
		m.descInput, cmd = m.descInput.Update(msg)
	case fieldPriority:
		m.priorityInput, cmd = m.priorityInput.Update(msg)
	case fieldTags:
		m.tagsInput, cmd = m.tagsInput.Update(msg)
	}
	return m, cmd
}

func (m *Model) updateViewport(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc", "q":
		m.currentView = ViewList
		return m, nil
	case "r":
		if m.currentView == ViewLog {
			return m, m.loadLog()
		}
		return m, m.loadTask(m.selectedTask.ID)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// Run starts the TUI application
func Run(store Store) error {
	p := tea.NewProgram(NewModel(store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
