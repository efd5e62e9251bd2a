package inbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/model"
	appsync "github.com/nhle/taskdesk/internal/sync"
)

func snapshot(ids ...int64) appsync.Snapshot {
	ns := make([]model.Notification, len(ids))
	for i, id := range ids {
		ns[i] = model.Notification{
			ID:        id,
			Type:      "task_assigned",
			Title:     "Task assigned",
			Message:   "You were assigned a task",
			Priority:  model.PriorityMedium,
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Hour),
		}
	}
	return appsync.Snapshot{Notifications: ns, Unread: len(ids), State: appsync.StateLoaded}
}

func TestSetSnapshotKeepsCursorOnSameNotification(t *testing.T) {
	m := New(80, 20)
	m.SetSnapshot(snapshot(5, 4, 3, 2))
	m.list.Select(2)

	sel, ok := m.SelectedNotification()
	require.True(t, ok)
	require.Equal(t, int64(3), sel.ID)

	// 5 was deleted; 3 moves up one row.
	m.SetSnapshot(snapshot(4, 3, 2))
	sel, ok = m.SelectedNotification()
	require.True(t, ok)
	assert.Equal(t, int64(3), sel.ID)
}

func TestSetSnapshotClampsCursorWhenSelectionRemoved(t *testing.T) {
	m := New(80, 20)
	m.SetSnapshot(snapshot(5, 4, 3))
	m.list.Select(2)

	m.SetSnapshot(snapshot(5))
	sel, ok := m.SelectedNotification()
	require.True(t, ok)
	assert.Equal(t, int64(5), sel.ID)
}

func TestSelectedNotificationOnEmptyList(t *testing.T) {
	m := New(80, 20)
	_, ok := m.SelectedNotification()
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestEmptyStates(t *testing.T) {
	m := New(80, 20)
	assert.Contains(t, m.View(), "Loading notifications")

	m.SetSnapshot(appsync.Snapshot{State: appsync.StateLoaded})
	assert.Contains(t, m.View(), "No notifications")

	m.SetSnapshot(appsync.Snapshot{State: appsync.StateError})
	assert.Contains(t, m.View(), "Press r to retry")
}

func TestRelativeTime(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "", relativeTime(time.Time{}))
	assert.Equal(t, "just now", relativeTime(now.Add(-10*time.Second)))
	assert.Equal(t, "5m ago", relativeTime(now.Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3h ago", relativeTime(now.Add(-3*time.Hour-time.Minute)))
	assert.Equal(t, "2d ago", relativeTime(now.Add(-49*time.Hour)))

	old := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, old.Format("Jan 02"), relativeTime(old))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel…", truncate("hello", 4))
	assert.Equal(t, "", truncate("hello", 1))
}

func TestEmphasized(t *testing.T) {
	read := time.Now()

	assert.True(t, emphasized(model.Notification{Priority: model.PriorityUrgent}))
	assert.True(t, emphasized(model.Notification{Priority: model.PriorityHigh}))
	assert.False(t, emphasized(model.Notification{Priority: model.PriorityMedium}))
	assert.False(t, emphasized(model.Notification{Priority: "unknown"}))
	assert.False(t, emphasized(model.Notification{Priority: model.PriorityUrgent, ReadAt: &read}))
}
