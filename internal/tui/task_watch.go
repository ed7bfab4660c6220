package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nathanbeddoewebdev/vpsd/internal/steps"
	"nathanbeddoewebdev/vpsd/internal/stepstore"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
	"nathanbeddoewebdev/vpsd/internal/tui/components"
	"nathanbeddoewebdev/vpsd/internal/tui/styles"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// watchPollInterval is the delay between record reads. The watch view only
// reads local state, so it can poll faster than the monitoring jobs do.
var watchPollInterval = time.Second

// maxWatchErrors is the number of consecutive failed reads tolerated before
// the view gives up.
const maxWatchErrors = 3

// TaskSnapshot is what the watch view renders: a record, its steps (for a
// rebuild) and the overall percentage.
type TaskSnapshot struct {
	Record  *taskstore.Record
	Steps   []stepstore.Step
	Percent float64
}

// SnapshotFunc loads the current state of the watched record.
type SnapshotFunc func(ctx context.Context) (*TaskSnapshot, error)

// --- Messages ---

type watchTickMsg struct{}

type watchSnapshotMsg struct {
	snap *TaskSnapshot
}

type watchErrorMsg struct {
	err error
}

// --- Model ---

type taskWatchModel struct {
	load SnapshotFunc
	id   int64

	snap *TaskSnapshot
	err  error

	consecutiveErrors int

	bar     progress.Model
	spinner spinner.Model

	width  int
	height int

	done bool
}

// RunTaskWatch shows a live view of record id until it settles or the user
// quits. It returns the last snapshot read.
func RunTaskWatch(id int64, load SnapshotFunc) (*TaskSnapshot, error) {
	m := newTaskWatchModel(id, load)

	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	fm := final.(taskWatchModel)
	if fm.snap == nil && fm.err != nil {
		return nil, fm.err
	}
	return fm.snap, nil
}

func newTaskWatchModel(id int64, load SnapshotFunc) taskWatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Blue)

	return taskWatchModel{
		load:    load,
		id:      id,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		spinner: s,
	}
}

func (m taskWatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m taskWatchModel) fetch() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		snap, err := load(context.Background())
		if err != nil {
			return watchErrorMsg{err: err}
		}
		return watchSnapshotMsg{snap: snap}
	}
}

func scheduleWatchTick() tea.Cmd {
	return tea.Tick(watchPollInterval, func(_ time.Time) tea.Msg {
		return watchTickMsg{}
	})
}

func (m taskWatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
		return m, nil

	case watchTickMsg:
		return m, m.fetch()

	case watchSnapshotMsg:
		m.snap = msg.snap
		m.err = nil
		m.consecutiveErrors = 0
		if m.snap == nil || m.snap.Record == nil || m.snap.Record.IsTerminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, scheduleWatchTick()

	case watchErrorMsg:
		m.err = msg.err
		m.consecutiveErrors++
		if m.consecutiveErrors >= maxWatchErrors {
			return m, tea.Quit
		}
		return m, scheduleWatchTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m taskWatchModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	header := components.Header(m.width, "tasks watch", fmt.Sprintf("#%d", m.id))
	footer := components.Footer(m.width, []components.KeyBinding{{Key: "q", Desc: "quit"}})

	statusBar := ""
	if m.err != nil {
		statusBar = components.StatusBar(m.width,
			fmt.Sprintf("Read failed (%d/%d): %v", m.consecutiveErrors, maxWatchErrors, m.err), true)
	}

	contentH := m.height - lipgloss.Height(header) - lipgloss.Height(footer) - lipgloss.Height(statusBar)
	if contentH < 1 {
		contentH = 1
	}

	sections := []string{header, m.renderContent(contentH)}
	if statusBar != "" {
		sections = append(sections, statusBar)
	}
	sections = append(sections, footer)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m taskWatchModel) renderContent(height int) string {
	if m.snap == nil || m.snap.Record == nil {
		return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center,
			m.spinner.View()+" "+styles.MutedText.Render("Loading task..."))
	}

	cardWidth := min(max(m.width-4, 30), 72)
	combined := lipgloss.JoinVertical(lipgloss.Center,
		styles.Title.Render(fmt.Sprintf("Task #%d", m.snap.Record.ID)),
		"",
		styles.Card.Width(cardWidth).Render(m.renderRecord(cardWidth-4)),
	)
	return lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, combined)
}

func (m taskWatchModel) renderRecord(width int) string {
	rec := m.snap.Record
	labelWidth := 12

	row := func(label, value string) string {
		return styles.Label.Width(labelWidth).Render(label) + value
	}
	valueWidth := max(width-labelWidth, 8)

	rows := []string{
		row("Kind", styles.Value.Render(string(rec.Kind))),
		row("Resource", styles.Value.Render(rec.ResourceID)),
	}
	if rec.Label != "" {
		rows = append(rows, row("Label", styles.Value.Render(ansi.Truncate(rec.Label, valueWidth, "…"))))
	}
	bar := m.bar
	bar.Width = max(valueWidth-8, 10)

	task := rec.ExternalTaskID
	if task == "" {
		task = "(waiting)"
	}
	rows = append(rows,
		row("Task", styles.MutedText.Render(ansi.Truncate(task, valueWidth, "…"))),
		row("Status", m.renderStatus(rec.Status)),
		row("Progress", bar.ViewAs(m.snap.Percent/100)+" "+components.FormatPercent(m.snap.Percent)),
	)
	if rec.Error != "" {
		rows = append(rows, row("Error", styles.ErrorText.Render(ansi.Truncate(rec.Error, valueWidth, "…"))))
	}

	if len(m.snap.Steps) > 0 {
		rows = append(rows, "", styles.Subtitle.Render("Steps"))
		for _, st := range m.snap.Steps {
			rows = append(rows, renderStep(st, rec.Step, valueWidth))
		}
	}
	return strings.Join(rows, "\n")
}

func (m taskWatchModel) renderStatus(status string) string {
	if status == taskstore.StatusRunning && !m.done {
		return m.spinner.View() + " " + styles.StatusStyle(status).Render(status)
	}
	return styles.StatusIndicator(status)
}

func renderStep(st stepstore.Step, current string, width int) string {
	name := st.Name
	if step, err := steps.ParseStep(st.Name); err == nil {
		name = steps.Label(step)
	}

	prefix := "  "
	if st.Name == current {
		prefix = styles.AccentText.Render("> ")
	}

	line := prefix + styles.StatusStyle(string(st.Status)).Render("●") + " " + name
	if d := st.HumanDuration(); d != "" {
		line += styles.MutedText.Render(" (" + d + ")")
	}
	if st.Output != "" && st.Status == steps.StatusRunning {
		line += styles.MutedText.Render(" " + st.Output)
	}
	return ansi.Truncate(line, width, "…")
}
