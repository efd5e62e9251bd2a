package settings

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
)

// LoadedMsg carries the result of fetching the project settings.
type LoadedMsg struct {
	Settings *model.ProjectSettings
	Err      error
}

// Model is the read-only project settings screen.
type Model struct {
	settings *model.ProjectSettings
	err      error
	loading  bool
	width    int
	height   int
}

// New creates a new settings view model.
func New(width, height int) Model {
	return Model{width: width, height: height}
}

// SetLoading marks the view as waiting for a fetch.
func (m *Model) SetLoading() {
	m.loading = true
	m.err = nil
}

// Update handles messages for the settings view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(LoadedMsg); ok {
		m.loading = false
		m.err = msg.Err
		if msg.Err == nil {
			m.settings = msg.Settings
		}
	}
	return m, nil
}

// View renders the settings panel.
func (m Model) View() string {
	title := theme.TitleStyle.Render("Project Settings")

	var body string
	switch {
	case m.loading && m.settings == nil:
		body = theme.HelpStyle.Render("Loading settings...")
	case m.err != nil && m.settings == nil:
		body = theme.ErrorStyle.Render("Could not load settings. Press r to retry.")
	case m.settings == nil:
		body = theme.HelpStyle.Render("No settings loaded.")
	default:
		body = renderSettings(*m.settings)
		if m.err != nil {
			body = lipgloss.JoinVertical(lipgloss.Left,
				theme.ErrorStyle.Render("Refresh failed; showing last values."), "", body)
		}
	}

	return theme.PanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func renderSettings(s model.ProjectSettings) string {
	label := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(36)
	row := func(name, value string) string {
		return label.Render(name) + value
	}

	maxClients := "unlimited"
	if s.MaxClientsPerProject > 0 {
		maxClients = fmt.Sprintf("%d", s.MaxClientsPerProject)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		row("Multiple clients per project", yesNo(s.AllowMultipleClientsPerProject)),
		row("Project requires a client", yesNo(s.RequireProjectClient)),
		row("Max clients per project", maxClients),
	)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
