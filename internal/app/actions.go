package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/guard"
	"github.com/nhle/taskdesk/internal/ui/command"
	"github.com/nhle/taskdesk/internal/ui/settings"
)

// login exchanges the credentials for a session.
func (m Model) login(creds api.Credentials) tea.Cmd {
	s := m.deps.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		user, err := s.Login(ctx, creds)
		return loginResultMsg{user: user, err: err}
	}
}

// logout ends the session; the session store moves the router to the
// login route.
func (m Model) logout() tea.Cmd {
	s := m.deps.Session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		s.Logout(ctx)
		return loggedOutMsg{}
	}
}

// inboxAction runs fn against the poller as a command named action.
func (m Model) inboxAction(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return actionResultMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) refresh() tea.Cmd {
	return m.inboxAction("refresh", m.deps.Poller.Refresh)
}

func (m Model) markRead(id int64) tea.Cmd {
	p := m.deps.Poller
	return m.inboxAction("mark read", func(ctx context.Context) error {
		return p.MarkAsRead(ctx, id)
	})
}

func (m Model) markUnread(id int64) tea.Cmd {
	p := m.deps.Poller
	return m.inboxAction("mark unread", func(ctx context.Context) error {
		return p.MarkAsUnread(ctx, id)
	})
}

func (m Model) markAllRead() tea.Cmd {
	return m.inboxAction("read all", m.deps.Poller.MarkAllAsRead)
}

func (m Model) deleteNotification(id int64) tea.Cmd {
	p := m.deps.Poller
	return m.inboxAction("delete", func(ctx context.Context) error {
		return p.DeleteNotification(ctx, id)
	})
}

func (m Model) deleteRead() tea.Cmd {
	return m.inboxAction("clear read", m.deps.Poller.DeleteReadNotifications)
}

// loadSettings fetches the project settings for the settings route.
func (m Model) loadSettings() tea.Cmd {
	src := m.deps.Settings
	return func() tea.Msg {
		if src == nil {
			return settings.LoadedMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		s, err := src.ProjectSettings(ctx)
		return settings.LoadedMsg{Settings: s, Err: err}
	}
}

// executeCommand handles a command from the command palette. Inbox
// commands require a signed-in session.
func (m *Model) executeCommand(msg command.CommandMsg) tea.Cmd {
	switch msg.Command {
	case command.Quit:
		return tea.Quit
	case command.Help:
		m.overlay = OverlayHelp
		return nil
	}

	if !m.deps.Session.Authenticated() {
		m.status = "Sign in first"
		return nil
	}

	switch msg.Command {
	case command.Refresh:
		return m.refresh()
	case command.ReadAll:
		return m.markAllRead()
	case command.ClearRead:
		return m.deleteRead()
	case command.Notifications:
		m.deps.Router.Navigate(guard.RouteNotifications)
		return nil
	case command.Settings:
		m.deps.Router.Navigate(guard.RouteSettings)
		return nil
	case command.Logout:
		return m.logout()
	default:
		m.status = "Unknown command: " + msg.Input
		return nil
	}
}
