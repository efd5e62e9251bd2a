package detail

import (
	"encoding/json"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/keys"
	"github.com/nhle/taskdesk/internal/model"
)

func TestFormatData(t *testing.T) {
	assert.Empty(t, formatData(nil))
	assert.Empty(t, formatData(json.RawMessage("null")))
	assert.Empty(t, formatData(json.RawMessage(" {} ")))
	assert.Equal(t, "{\n  \"task_id\": 7\n}", formatData(json.RawMessage(`{"task_id":7}`)))
	assert.Equal(t, "not json", formatData(json.RawMessage("not json")))
}

func TestSetNotificationRendersFields(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 30)
	m.SetNotification(model.Notification{
		ID:        9,
		Type:      "task_assigned",
		Title:     "New task",
		Message:   "You were assigned Fix login",
		Priority:  model.PriorityHigh,
		ActionURL: "/tasks/7",
		CreatedAt: time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC),
	})

	view := m.View()
	assert.Contains(t, view, "New task")
	assert.Contains(t, view, "HIGH")
	assert.Contains(t, view, "unread")
	assert.Contains(t, view, "/tasks/7")
	assert.Contains(t, view, "You were assigned Fix login")
}

func TestRefreshFollowsOrClears(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 30)
	m.SetNotification(model.Notification{ID: 9, Title: "New task"})

	read := time.Now()
	m.Refresh([]model.Notification{{ID: 9, Title: "New task", ReadAt: &read}})
	n, ok := m.Notification()
	require.True(t, ok)
	assert.NotNil(t, n.ReadAt)

	m.Refresh([]model.Notification{{ID: 3}})
	_, ok = m.Notification()
	assert.False(t, ok)
}

func TestEscapeSendsBack(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 30)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, BackMsg{}, cmd())
}
