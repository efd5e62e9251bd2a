package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/tests/testutil"
)

func seedInbox() []model.Notification {
	read := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []model.Notification{
		{ID: 3, Title: "older", CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), Priority: model.PriorityLow},
		{ID: 5, Title: "newest", CreatedAt: time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), Priority: model.PriorityUrgent},
		{ID: 4, Title: "read", CreatedAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), ReadAt: &read},
	}
}

func TestLogin_ReturnsTokenAndUser(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	c := newTestClient(t, fake.URL(), "")

	res, err := c.Login(context.Background(), Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.Token)
	require.NotNil(t, res.User)
	assert.Equal(t, int64(42), res.User.ID)
	assert.Equal(t, []string{"admin"}, res.User.RoleNames())
}

func TestLogin_WrongPasswordIsValidation(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	c := newTestClient(t, fake.URL(), "")

	_, err := c.Login(context.Background(), Credentials{Email: "u@x.com", Password: "nope"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestLogin_MissingTokenIsDecodeError(t *testing.T) {
	srv := serveJSON(t, 200, `{"success":true,"data":{"user":{"id":1}}}`)
	c := newTestClient(t, srv.URL, "")

	_, err := c.Login(context.Background(), Credentials{Email: "u@x.com", Password: "p"})
	require.Error(t, err)
	assert.Equal(t, KindDecode, KindOf(err))
}

func TestMe_AcceptsShapes(t *testing.T) {
	bodies := map[string]string{
		"enveloped": `{"success":true,"data":{"id":42,"name":"Uma","roles":[{"id":1,"name":"admin"}]}}`,
		"wrapped":   `{"user":{"id":42,"name":"Uma","roles":[{"id":1,"name":"admin"}]}}`,
		"bare":      `{"id":42,"name":"Uma","roles":[{"id":1,"name":"admin"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := serveJSON(t, 200, body)
			c := newTestClient(t, srv.URL, "tok")

			u, err := c.Me(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(42), u.ID)
			assert.Equal(t, "Uma", u.DisplayName())
			assert.Equal(t, []string{"admin"}, u.RoleNames())
		})
	}
}

func TestMe_RejectsEmptyUser(t *testing.T) {
	srv := serveJSON(t, 200, `{"success":true,"data":{}}`)
	c := newTestClient(t, srv.URL, "tok")

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindDecode, KindOf(err))
}

func TestListNotifications_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantIDs   []int64
		wantTotal int
	}{
		{"bare array", `[{"id":1},{"id":2}]`, []int64{1, 2}, -1},
		{"enveloped", `{"success":true,"data":[{"id":3}]}`, []int64{3}, -1},
		{"top-level pagination", `{"success":true,"data":[{"id":4},{"id":5}],"current_page":1,"last_page":2,"per_page":2,"total":3}`, []int64{4, 5}, 3},
		{"nested page", `{"success":true,"data":{"data":[{"id":6}],"current_page":1,"last_page":1,"per_page":15,"total":1}}`, []int64{6}, 1},
		{"nested items", `{"data":{"items":[{"id":7}]}}`, []int64{7}, -1},
		{"null data", `{"success":true,"data":null}`, []int64{}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveJSON(t, 200, tt.body)
			c := newTestClient(t, srv.URL, "tok")

			items, page, err := c.ListNotifications(context.Background())
			require.NoError(t, err)

			ids := make([]int64, 0, len(items))
			for _, n := range items {
				ids = append(ids, n.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)

			if tt.wantTotal < 0 {
				assert.Nil(t, page)
			} else {
				require.NotNil(t, page)
				assert.Equal(t, tt.wantTotal, page.Total)
			}
		})
	}
}

func TestListNotifications_ParsesFields(t *testing.T) {
	srv := serveJSON(t, 200, `{"success":true,"data":[{"id":9,"type":"task_assigned","title":"T","message":"M","data":{"task_id":1},"read_at":"2026-03-01T10:00:00Z","action_url":"/tasks/1","priority":"high","created_at":"2026-03-01T09:00:00Z"}]}`)
	c := newTestClient(t, srv.URL, "tok")

	items, _, err := c.ListNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	n := items[0]
	assert.Equal(t, "task_assigned", n.Type)
	assert.Equal(t, model.PriorityHigh, n.Priority)
	assert.True(t, n.IsRead())
	assert.Equal(t, "/tasks/1", n.ActionURL)
	assert.JSONEq(t, `{"task_id":1}`, string(n.Data))
}

func TestUnreadCount_Shapes(t *testing.T) {
	for body, want := range map[string]int{
		`{"count":4}`:                         4,
		`{"success":true,"data":{"count":2}}`: 2,
		`{"success":true,"data":7}`:           7,
		`{"count":0}`:                         0,
	} {
		srv := serveJSON(t, 200, body)
		c := newTestClient(t, srv.URL, "tok")

		got, err := c.UnreadCount(context.Background())
		require.NoError(t, err, body)
		assert.Equal(t, want, got, body)
	}
}

func TestNotificationMutations(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeAPI(t)
	fake.SetNotifications(seedInbox())
	c := newTestClient(t, fake.URL(), testutil.FakeToken)

	require.NoError(t, c.MarkRead(ctx, 5))
	n, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.MarkUnread(ctx, 4))
	n, err = c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.MarkAllRead(ctx))
	n, err = c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, c.DeleteNotification(ctx, 3))
	assert.Len(t, fake.Notifications(), 2)

	require.NoError(t, c.DeleteReadNotifications(ctx))
	assert.Empty(t, fake.Notifications())

	assert.Equal(t, 1, fake.Count(http.MethodPost, "/notifications/5/read"))
	assert.Equal(t, 1, fake.Count(http.MethodDelete, "/notifications/read"))
}

func TestDeleteNotification_NotFound(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	c := newTestClient(t, fake.URL(), testutil.FakeToken)

	err := c.DeleteNotification(context.Background(), 999)
	require.Error(t, err)
	assert.Equal(t, KindRequest, KindOf(err))
}

func TestProjectSettings(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	c := newTestClient(t, fake.URL(), testutil.FakeToken)

	s, err := c.ProjectSettings(context.Background())
	require.NoError(t, err)
	assert.True(t, s.AllowMultipleClientsPerProject)
	assert.Equal(t, 3, s.MaxClientsPerProject)
}
