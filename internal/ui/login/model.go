package login

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/session"
	"github.com/nhle/taskdesk/internal/theme"
)

// SubmitMsg is dispatched when the user completes the sign-in form.
type SubmitMsg struct {
	Credentials api.Credentials
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	email    string
	password string
}

// Model is the Bubble Tea model for the sign-in screen.
type Model struct {
	form    *huh.Form
	fb      *formBindings
	pending bool
	errMsg  string
	width   int
	height  int
}

// New creates a new sign-in form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// Start builds a fresh form, keeping the last e-mail address.
func (m *Model) Start() tea.Cmd {
	m.pending = false
	m.fb.password = ""
	m.form = m.buildForm()
	return m.form.Init()
}

// Pending reports whether a submitted sign-in is awaiting its result.
func (m Model) Pending() bool {
	return m.pending
}

// Failed shows err under the form and rebuilds it for another attempt.
func (m *Model) Failed(err error) tea.Cmd {
	m.errMsg = Describe(err)
	return m.Start()
}

// Clear drops any error message and entered password.
func (m *Model) Clear() {
	m.errMsg = ""
	m.fb.password = ""
}

// Update handles messages for the sign-in form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil || m.pending {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.pending = true
		m.errMsg = ""
		creds := api.Credentials{
			Email:    strings.TrimSpace(m.fb.email),
			Password: m.fb.password,
		}
		return m, func() tea.Msg { return SubmitMsg{Credentials: creds} }
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the sign-in form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	parts := []string{theme.TitleStyle.Render("Sign in")}
	if m.pending {
		parts = append(parts, theme.HelpStyle.Render("Signing in..."))
	} else {
		parts = append(parts, m.form.View())
	}
	if m.errMsg != "" {
		parts = append(parts, theme.ErrorStyle.Render(m.errMsg))
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Placeholder("you@example.com").
				Value(&m.fb.email).
				Validate(validateRequired("Email")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&m.fb.password).
				Validate(validateRequired("Password")),
		),
	).WithWidth(m.formWidth()).WithShowHelp(false)
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 30 {
		w = 30
	}
	if w > 60 {
		w = 60
	}
	return w
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

// Describe turns a sign-in failure into a line for the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, session.ErrInvalidCredentials) {
		return "Enter a valid email address and a password."
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case api.KindValidation:
			if msg := apiErr.FieldError("email"); msg != "" {
				return msg
			}
			if apiErr.Message != "" {
				return apiErr.Message
			}
			return "The provided credentials are incorrect."
		case api.KindNetwork:
			return "Cannot reach the server. Check your connection."
		case api.KindServer:
			return "The server failed to sign you in. Try again later."
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}
	return "Sign-in failed."
}
