package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/theme"
)

// Command is a palette action.
type Command int

const (
	Unknown Command = iota
	Refresh
	ReadAll
	ClearRead
	Notifications
	Settings
	Help
	Logout
	Quit
)

// names maps every accepted spelling to its command.
var names = map[string]Command{
	"refresh":       Refresh,
	"sync":          Refresh,
	"read all":      ReadAll,
	"mark all read": ReadAll,
	"clear read":    ClearRead,
	"delete read":   ClearRead,
	"notifications": Notifications,
	"inbox":         Notifications,
	"settings":      Settings,
	"help":          Help,
	"logout":        Logout,
	"sign out":      Logout,
	"quit":          Quit,
	"q":             Quit,
}

// Names lists the canonical command spellings in display order.
var Names = []string{
	"refresh", "read all", "clear read", "notifications", "settings", "help", "logout", "quit",
}

// Parse maps palette input to a Command. Input is case-insensitive and
// surrounding or repeated whitespace is ignored.
func Parse(input string) Command {
	normalized := strings.ToLower(strings.Join(strings.Fields(input), " "))
	return names[normalized]
}

// CommandMsg is emitted when the user executes a command.
type CommandMsg struct {
	Command Command
	Input   string
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(Names)
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			raw := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if raw != "" {
				return m, func() tea.Msg {
					return CommandMsg{Command: Parse(raw), Input: raw}
				}
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	title := theme.TitleStyle.Render("Command Palette")
	input := m.input.View()
	hint := theme.HelpStyle.Render(strings.Join(Names, " · "))

	content := lipgloss.JoinVertical(lipgloss.Left, title, input, "", hint)

	return theme.PanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.input.Reset()
	return m.input.Focus()
}
