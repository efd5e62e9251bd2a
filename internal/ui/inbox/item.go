package inbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/theme"
)

// NotificationItem wraps a model.Notification so it can be used in a
// bubbles/list.
type NotificationItem struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i NotificationItem) FilterValue() string {
	return i.Notification.Title + " " + i.Notification.Message
}

// Title returns the notification headline.
func (i NotificationItem) Title() string { return i.Notification.Title }

// Description returns a short summary line for the list.
func (i NotificationItem) Description() string {
	parts := []string{
		i.Notification.Type,
		string(i.Notification.Priority),
		relativeTime(i.Notification.CreatedAt),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for notifications: a
// headline line and a dimmed message line.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ni, ok := item.(NotificationItem)
	if !ok {
		return
	}
	n := ni.Notification
	isSelected := index == m.Index()

	marker := " "
	if !n.IsRead() {
		marker = lipgloss.NewStyle().Foreground(theme.ColorBlue).Render("●")
	}

	priBadge := theme.PriorityStyle(n.Priority).Render(priorityLabel(n.Priority))
	typeLabel := theme.TypeLabelStyle(n.Type).Render(n.Type)
	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(n.CreatedAt))

	title := n.Title
	if emphasized(n) {
		title = lipgloss.NewStyle().Bold(true).Render(title)
	}

	headline := fmt.Sprintf("%s %s %s%s  %s", marker, priBadge, title, typeLabel, timeStr)
	body := "  " + truncate(singleLine(n.Message), m.Width()-6)

	if n.IsRead() {
		headline = theme.DimmedStyle.Render(headline)
	}
	body = theme.DimmedStyle.Render(body)

	line := headline + "\n" + body
	if isSelected {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 02")
	}
}

// emphasized reports whether an unread notification is high priority or
// above.
func emphasized(n model.Notification) bool {
	return !n.IsRead() && n.Priority.Rank() <= model.PriorityHigh.Rank()
}

// priorityLabel returns a short label for the given priority.
func priorityLabel(p model.Priority) string {
	switch p {
	case model.PriorityUrgent:
		return "URG"
	case model.PriorityHigh:
		return "HI "
	case model.PriorityMedium:
		return "MED"
	case model.PriorityLow:
		return "LOW"
	default:
		return " ? "
	}
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to at most width runes, marking the cut with "…".
func truncate(s string, width int) string {
	if width <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
