package detail

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
)

// BackMsg signals the parent to return to the notification list.
type BackMsg struct{}

// Model shows one notification in full.
type Model struct {
	notification *model.Notification
	viewport     viewport.Model
	keys         *keys.KeyMap
	width        int
	height       int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, m.keys.Back) {
		return m, func() tea.Msg {
			return BackMsg{}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.notification == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notification selected")
	}

	return m.viewport.View()
}

// Notification returns the notification being shown.
func (m Model) Notification() (model.Notification, bool) {
	if m.notification == nil {
		return model.Notification{}, false
	}
	return *m.notification, true
}

// SetNotification shows n and scrolls to the top.
func (m *Model) SetNotification(n model.Notification) {
	m.notification = &n
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Refresh re-renders with the latest copy of the shown notification, or
// clears the view when it is gone.
func (m *Model) Refresh(ns []model.Notification) {
	if m.notification == nil {
		return
	}
	for _, n := range ns {
		if n.ID == m.notification.ID {
			m.notification = &n
			m.viewport.SetContent(m.renderContent())
			return
		}
	}
	m.notification = nil
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	n := m.notification
	if n == nil {
		return ""
	}

	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(n.Title))

	readState := lipgloss.NewStyle().Foreground(theme.ColorBlue).Render("unread")
	if n.ReadAt != nil {
		readState = theme.DimmedStyle.Render("read " + n.ReadAt.Local().Format("Jan 02 15:04"))
	}
	badges := lipgloss.JoinHorizontal(lipgloss.Top,
		theme.PriorityStyle(n.Priority).Render(strings.ToUpper(string(n.Priority))),
		theme.TypeLabelStyle(n.Type).Render(n.Type),
		" ",
		readState,
	)
	sections = append(sections, badges, "")

	labelStyle := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(10)
	sections = append(sections,
		labelStyle.Render("Received")+n.CreatedAt.Local().Format("Mon Jan 02 2006 15:04"))
	if n.ActionURL != "" {
		sections = append(sections, labelStyle.Render("Link")+n.ActionURL)
	}
	sections = append(sections, "")

	body := lipgloss.NewStyle().Width(max(m.width-4, 20)).Render(n.Message)
	sections = append(sections, body)

	if data := formatData(n.Data); data != "" {
		sections = append(sections, "", theme.HelpStyle.Render("Details"), data)
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// formatData pretty-prints the structured payload. Empty and null
// payloads render nothing.
func formatData(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.notification != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
