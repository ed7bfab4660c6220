package tui

import (
	"errors"
	"fmt"
	"strings"

	"nathanbeddoewebdev/vpsd/internal/services/auth"
	"nathanbeddoewebdev/vpsd/internal/tui/components"
	"nathanbeddoewebdev/vpsd/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Provider status ---

// ProviderStatus is whether a provider has usable credentials and where
// they come from.
type ProviderStatus struct {
	Name   string
	Status string // token source, "not authenticated", or an error
	OK     bool
}

// ProviderStatuses resolves the credential source of every named provider.
func ProviderStatuses(store auth.Store, names []string) []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(names))
	for _, name := range names {
		source, err := auth.Source(store, name)
		switch {
		case err == nil:
			statuses = append(statuses, ProviderStatus{Name: name, Status: "authenticated (" + source + ")", OK: true})
		case errors.Is(err, auth.ErrTokenNotFound):
			statuses = append(statuses, ProviderStatus{Name: name, Status: "not authenticated"})
		default:
			statuses = append(statuses, ProviderStatus{Name: name, Status: fmt.Sprintf("error: %v", err)})
		}
	}
	return statuses
}

// --- Auth status model ---

type authStatusModel struct {
	store auth.Store

	statuses []ProviderStatus

	width  int
	height int
}

// RunAuthStatus starts the full-window auth status TUI for providers.
func RunAuthStatus(store auth.Store, providers []string) error {
	m := authStatusModel{
		store:    store,
		statuses: ProviderStatuses(store, providers),
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m authStatusModel) Init() tea.Cmd {
	return nil
}

func (m authStatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
	}

	return m, nil
}

func (m authStatusModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	header := components.Header(m.width, "auth status", "")
	footerBindings := []components.KeyBinding{
		{Key: "q", Desc: "quit"},
	}
	footer := components.Footer(m.width, footerBindings)

	headerH := lipgloss.Height(header)
	footerH := lipgloss.Height(footer)
	contentH := m.height - headerH - footerH
	if contentH < 1 {
		contentH = 1
	}

	content := m.renderContent(contentH)

	return lipgloss.JoinVertical(lipgloss.Left, header, content, footer)
}

func (m authStatusModel) renderContent(height int) string {
	if len(m.statuses) == 0 {
		return lipgloss.Place(
			m.width, height,
			lipgloss.Center, lipgloss.Center,
			styles.MutedText.Render("No hypervisor providers registered."),
		)
	}

	title := styles.Title.Render("Hypervisor Authentication")

	cardWidth := 56
	labelWidth := 16

	rows := make([]string, 0, len(m.statuses))
	for _, ps := range m.statuses {
		nameStyle := styles.Label.Width(labelWidth)
		name := nameStyle.Render(ps.Name)

		statusText := styles.MutedText.Render(ps.Status)
		if ps.OK {
			statusText = styles.SuccessText.Render(ps.Status)
		}
		rows = append(rows, name+statusText)
	}

	hint := styles.MutedText.Italic(true).Render("Environment tokens (" + auth.EnvVar("<provider>") + ") take precedence.")
	content := strings.Join(append(rows, "", hint), "\n")

	card := styles.Card.Width(cardWidth).Render(content)

	combined := lipgloss.JoinVertical(lipgloss.Center, title, "", card)

	return lipgloss.Place(
		m.width, height,
		lipgloss.Center, lipgloss.Center,
		combined,
	)
}
