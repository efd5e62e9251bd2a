package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/guard"
	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/logger"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
	appsync "github.com/nhle/taskdesk/internal/sync"
	"github.com/nhle/taskdesk/internal/ui"
	"github.com/nhle/taskdesk/internal/ui/command"
	"github.com/nhle/taskdesk/internal/ui/detail"
	helpview "github.com/nhle/taskdesk/internal/ui/help"
	"github.com/nhle/taskdesk/internal/ui/inbox"
	"github.com/nhle/taskdesk/internal/ui/login"
	"github.com/nhle/taskdesk/internal/ui/settings"
)

// requestTimeout bounds API calls started from the UI.
const requestTimeout = 30 * time.Second

// SettingsAPI fetches the project settings shown on the settings route.
type SettingsAPI interface {
	ProjectSettings(ctx context.Context) (*model.ProjectSettings, error)
}

// Deps are the services the root model drives.
type Deps struct {
	Session  *session.Store
	Router   *guard.Router
	Guard    *guard.Guard
	Poller   *appsync.Poller
	Settings SettingsAPI
	Logger   *zap.Logger
}

// Overlay is a view drawn over the current route.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHelp
	OverlayCommand
)

// routeMsg reports a guard decision for the router's location.
type routeMsg struct {
	route    string
	decision guard.Decision
}

// loginResultMsg carries the outcome of a sign-in attempt.
type loginResultMsg struct {
	user *model.User
	err  error
}

// actionResultMsg carries the outcome of an inbox action.
type actionResultMsg struct {
	action string
	err    error
}

// loggedOutMsg is sent once Logout has cleared the session.
type loggedOutMsg struct{}

// Model is the root Bubble Tea model. The visible screen follows the
// router's location as decided by the guard.
type Model struct {
	route    string
	decision guard.Decision
	overlay  Overlay
	layout   ui.Layout
	keys     *keys.KeyMap
	deps     Deps
	logger   *zap.Logger
	routes   chan routeMsg

	loginView    login.Model
	inboxView    inbox.Model
	detailView   detail.Model
	settingsView settings.Model
	helpView     helpview.Model
	commandView  command.Model

	snapshot   appsync.Snapshot
	detailOpen bool
	status     string
	ready      bool
}

// New creates the root model and starts observing guard decisions.
func New(deps Deps) Model {
	k := keys.DefaultKeyMap()
	log := logger.OrNop(deps.Logger).Named("app")
	routes := make(chan routeMsg, 32)

	deps.Guard.Observe(func(route string, d guard.Decision) {
		select {
		case routes <- routeMsg{route: route, decision: d}:
		default:
			log.Debug("route event dropped", zap.String("route", route))
		}
	})

	return Model{
		route:        deps.Router.Location(),
		keys:         k,
		deps:         deps,
		logger:       log,
		routes:       routes,
		loginView:    login.New(80, 24),
		inboxView:    inbox.New(80, 22),
		detailView:   detail.New(k, 80, 22),
		settingsView: settings.New(80, 22),
		helpView:     helpview.New(k, 80, 22),
		commandView:  command.New(80, 22),
		snapshot:     deps.Poller.Snapshot(),
	}
}

// Init evaluates the starting route and begins listening for route and
// inbox updates.
func (m Model) Init() tea.Cmd {
	g := m.deps.Guard
	return tea.Batch(
		func() tea.Msg {
			g.Refresh()
			return nil
		},
		m.waitForRoute(),
		m.deps.Poller.WaitForNextUpdate(),
	)
}

// waitForRoute delivers the next guard decision.
func (m Model) waitForRoute() tea.Cmd {
	ch := m.routes
	return func() tea.Msg {
		return <-ch
	}
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.loginView.SetSize(contentWidth, contentHeight)
		m.inboxView.SetSize(contentWidth, contentHeight)
		m.detailView.SetSize(contentWidth, contentHeight)
		m.settingsView.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case routeMsg:
		wait := m.waitForRoute()
		if msg.route != m.deps.Router.Location() {
			// Superseded by a later navigation.
			return m, wait
		}
		cmd := m.enterRoute(msg.route, msg.decision)
		return m, tea.Batch(wait, cmd)

	case appsync.UpdateMsg:
		m.snapshot = msg.Snapshot
		cmd := m.inboxView.SetSnapshot(msg.Snapshot)
		if m.detailOpen {
			m.detailView.Refresh(msg.Snapshot.Notifications)
			_, m.detailOpen = m.detailView.Notification()
		}
		return m, tea.Batch(cmd, m.deps.Poller.WaitForNextUpdate())

	case detail.BackMsg:
		m.detailOpen = false
		return m, nil

	case login.SubmitMsg:
		return m, m.login(msg.Credentials)

	case login.CancelMsg:
		return m, tea.Quit

	case loginResultMsg:
		if msg.err != nil {
			cmd := m.loginView.Failed(msg.err)
			return m, cmd
		}
		m.loginView.Clear()
		m.status = fmt.Sprintf("Signed in as %s", msg.user.DisplayName())
		m.deps.Router.Navigate(guard.RouteNotifications)
		return m, nil

	case loggedOutMsg:
		m.status = "Signed out"
		return m, nil

	case actionResultMsg:
		m.status = describeActionResult(msg)
		return m, nil

	case settings.LoadedMsg:
		if msg.Err != nil && !api.IsUnauthorized(msg.Err) {
			m.logger.Warn("loading project settings failed", zap.Error(msg.Err))
		}
		var cmd tea.Cmd
		m.settingsView, cmd = m.settingsView.Update(msg)
		return m, cmd

	case command.CommandMsg:
		m.overlay = OverlayNone
		cmd := m.executeCommand(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleKey routes a key press: overlays first, then the login form,
// then global and route-specific bindings.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.overlay {
	case OverlayCommand:
		if key.Matches(msg, m.keys.Back) {
			m.overlay = OverlayNone
			return m, nil
		}
		return m.updateActiveView(msg)
	case OverlayHelp:
		if key.Matches(msg, m.keys.Back, m.keys.Help) {
			m.overlay = OverlayNone
		}
		return m, nil
	}

	// The sign-in form owns the keyboard.
	if m.showing(guard.RouteLogin) {
		return m.updateActiveView(msg)
	}

	m.status = ""

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil
	case key.Matches(msg, m.keys.Command):
		m.overlay = OverlayCommand
		cmd := m.commandView.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Logout):
		return m, m.logout()
	case key.Matches(msg, m.keys.Settings):
		m.deps.Router.Navigate(guard.RouteSettings)
		return m, nil
	case key.Matches(msg, m.keys.Inbox):
		m.deps.Router.Navigate(guard.RouteNotifications)
		return m, nil
	}

	switch {
	case m.showing(guard.RouteNotifications) && m.detailOpen:
		if cmd, handled := m.handleDetailKey(msg); handled {
			return m, cmd
		}
	case m.showing(guard.RouteNotifications):
		if key.Matches(msg, m.keys.Open) {
			cmd := m.openDetail()
			return m, cmd
		}
		if cmd, handled := m.handleInboxKey(msg); handled {
			return m, cmd
		}
	case m.showing(guard.RouteSettings):
		switch {
		case key.Matches(msg, m.keys.Refresh):
			m.settingsView.SetLoading()
			return m, m.loadSettings()
		case key.Matches(msg, m.keys.Back):
			m.deps.Router.Navigate(guard.RouteNotifications)
			return m, nil
		}
	}

	return m.updateActiveView(msg)
}

// handleInboxKey runs the inbox action bound to msg, if any.
func (m Model) handleInboxKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Refresh):
		return m.refresh(), true
	case key.Matches(msg, m.keys.MarkAllRead):
		return m.markAllRead(), true
	case key.Matches(msg, m.keys.DeleteRead):
		return m.deleteRead(), true
	}

	n, ok := m.inboxView.SelectedNotification()
	switch {
	case key.Matches(msg, m.keys.ToggleRead):
		if !ok {
			return nil, true
		}
		if n.IsRead() {
			return m.markUnread(n.ID), true
		}
		return m.markRead(n.ID), true
	case key.Matches(msg, m.keys.MarkRead):
		if ok && !n.IsRead() {
			return m.markRead(n.ID), true
		}
		return nil, true
	case key.Matches(msg, m.keys.MarkUnread):
		if ok && n.IsRead() {
			return m.markUnread(n.ID), true
		}
		return nil, true
	case key.Matches(msg, m.keys.Delete):
		if ok {
			return m.deleteNotification(n.ID), true
		}
		return nil, true
	}
	return nil, false
}

// openDetail shows the selected notification in full and marks it read.
func (m *Model) openDetail() tea.Cmd {
	n, ok := m.inboxView.SelectedNotification()
	if !ok {
		return nil
	}
	m.detailView.SetNotification(n)
	m.detailOpen = true
	if n.IsRead() {
		return nil
	}
	return m.markRead(n.ID)
}

// handleDetailKey runs the action bound to msg against the open
// notification. Unhandled keys scroll the viewport.
func (m Model) handleDetailKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	n, ok := m.detailView.Notification()
	if !ok {
		return nil, false
	}
	switch {
	case key.Matches(msg, m.keys.Refresh):
		return m.refresh(), true
	case key.Matches(msg, m.keys.MarkUnread):
		if n.IsRead() {
			return m.markUnread(n.ID), true
		}
		return nil, true
	case key.Matches(msg, m.keys.Delete):
		return m.deleteNotification(n.ID), true
	}
	return nil, false
}

// showing reports whether route is the rendered screen.
func (m Model) showing(route string) bool {
	return m.route == route && m.decision.Outcome == guard.OutcomeRender
}

// enterRoute switches the screen to route as decided by the guard.
func (m *Model) enterRoute(route string, d guard.Decision) tea.Cmd {
	changed := route != m.route || d.Outcome != m.decision.Outcome
	m.route = route
	m.decision = d
	if changed {
		m.overlay = OverlayNone
		m.detailOpen = false
	}
	if d.Outcome != guard.OutcomeRender || !changed {
		return nil
	}

	switch route {
	case guard.RouteLogin:
		if m.deps.Session.Authenticated() {
			m.deps.Router.Navigate(guard.RouteNotifications)
			return nil
		}
		return m.loginView.Start()
	case guard.RouteNotifications:
		m.snapshot = m.deps.Poller.Snapshot()
		return m.inboxView.SetSnapshot(m.snapshot)
	case guard.RouteSettings:
		m.settingsView.SetLoading()
		return m.loadSettings()
	}
	return nil
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch {
	case m.overlay == OverlayCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case m.overlay == OverlayHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case m.showing(guard.RouteLogin):
		m.loginView, cmd = m.loginView.Update(msg)
	case m.showing(guard.RouteNotifications) && m.detailOpen:
		m.detailView, cmd = m.detailView.Update(msg)
	case m.showing(guard.RouteNotifications):
		m.inboxView, cmd = m.inboxView.Update(msg)
	case m.showing(guard.RouteSettings):
		m.settingsView, cmd = m.settingsView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	unread := 0
	if m.deps.Session.Authenticated() {
		unread = m.snapshot.Unread
	}
	header := m.layout.RenderHeader("taskdesk", unread, m.headerStatus())
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current screen.
func (m Model) renderContent() string {
	switch m.overlay {
	case OverlayHelp:
		return m.helpView.View()
	case OverlayCommand:
		return m.commandView.View()
	}

	switch m.decision.Outcome {
	case guard.OutcomeRender:
	case guard.OutcomeDenied:
		return m.layout.RenderCentered(accessDeniedText)
	case guard.OutcomeRedirect:
		if m.decision.Fallback == guard.FallbackAccessDenied {
			return m.layout.RenderCentered(accessDeniedText)
		}
		return ""
	default:
		return m.layout.RenderCentered("Loading...")
	}

	switch m.route {
	case guard.RouteLogin:
		return m.loginView.View()
	case guard.RouteNotifications:
		if m.detailOpen {
			return m.detailView.View()
		}
		return m.inboxView.View()
	case guard.RouteSettings:
		return m.settingsView.View()
	default:
		return m.layout.RenderCentered("Page not found.\n\nPress n for notifications.")
	}
}

const accessDeniedText = "Access denied\n\nYou do not have permission to view this page."

// headerStatus shows who is signed in and the inbox sync state.
func (m Model) headerStatus() string {
	sess := m.deps.Session.Current()
	if sess.User == nil {
		return "signed out"
	}

	var state string
	switch m.snapshot.State {
	case appsync.StateLoading:
		state = "syncing"
	case appsync.StateError:
		state = "⚠ offline"
	case appsync.StateLoaded:
		state = "synced " + m.snapshot.LastFetch.Format("15:04")
	default:
		state = "idle"
	}
	return fmt.Sprintf("%s · %s", sess.User.DisplayName(), state)
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.status != "" {
		return m.status
	}

	switch {
	case m.overlay == OverlayHelp:
		return "? close help | esc back"
	case m.overlay == OverlayCommand:
		return "enter execute | tab complete | esc back"
	case m.showing(guard.RouteLogin):
		return "enter next | ctrl+c quit"
	case m.showing(guard.RouteSettings):
		return "r reload | esc back | L sign out | q quit"
	case m.showing(guard.RouteNotifications) && m.detailOpen:
		return "j/k scroll | u mark unread | d delete | esc back"
	case m.showing(guard.RouteNotifications):
		return "o open | enter toggle read | d delete | a read all | D clear read | r refresh | ? help"
	default:
		return "n notifications | L sign out | q quit"
	}
}

// describeActionResult turns an action outcome into a status line.
func describeActionResult(msg actionResultMsg) string {
	switch {
	case msg.err == nil:
		return ""
	case api.IsUnauthorized(msg.err):
		return "Session expired. Sign in again."
	case api.IsNetwork(msg.err):
		return fmt.Sprintf("%s failed: server unreachable", msg.action)
	default:
		var apiErr *api.Error
		if errors.As(msg.err, &apiErr) && apiErr.Message != "" {
			return fmt.Sprintf("%s failed: %s", msg.action, apiErr.Message)
		}
		return fmt.Sprintf("%s failed", msg.action)
	}
}
