package inbox

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/model"
	appsync "github.com/nhle/taskdesk/internal/sync"
	"github.com/nhle/taskdesk/internal/theme"
)

// Model is the notification list view.
type Model struct {
	list   list.Model
	state  appsync.State
	err    error
	unread int
	width  int
	height int
}

// New creates a new notification list model.
func New(width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("notification", "notifications")
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:   l,
		width:  width,
		height: height,
	}
}

// SetSnapshot replaces the displayed inbox, keeping the cursor on the
// same notification when it is still present.
func (m *Model) SetSnapshot(s appsync.Snapshot) tea.Cmd {
	selected, hadSelection := m.SelectedNotification()

	m.state = s.State
	m.err = s.Err
	m.unread = s.Unread

	items := make([]list.Item, len(s.Notifications))
	cursor := -1
	for i, n := range s.Notifications {
		items[i] = NotificationItem{Notification: n}
		if hadSelection && n.ID == selected.ID {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)

	switch {
	case cursor >= 0:
		m.list.Select(cursor)
	case m.list.Index() >= len(items) && len(items) > 0:
		m.list.Select(len(items) - 1)
	}
	return cmd
}

// SelectedNotification returns the notification under the cursor.
func (m Model) SelectedNotification() (model.Notification, bool) {
	item, ok := m.list.SelectedItem().(NotificationItem)
	if !ok {
		return model.Notification{}, false
	}
	return item.Notification, true
}

// Len returns the number of notifications shown.
func (m Model) Len() int {
	return len(m.list.Items())
}

// Update handles navigation keys; inbox actions are handled by the
// root model.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the notification list.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	m.list.Title = fmt.Sprintf("Notifications (%d unread)", m.unread)
	view := m.list.View()
	if m.state == appsync.StateError && m.err != nil {
		warn := theme.ErrorStyle.Render("⚠ showing cached notifications: refresh failed")
		return lipgloss.JoinVertical(lipgloss.Left, warn, view)
	}
	return view
}

// renderEmptyState shows guidance text when no notifications are available.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch m.state {
	case appsync.StateIdle, appsync.StateLoading:
		return style.Render("Loading notifications...")
	case appsync.StateError:
		return style.Render("Could not load notifications.\n\nPress r to retry.")
	default:
		return style.Render("You're all caught up.\n\nNo notifications.")
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
