package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nhle/taskdesk/internal/model"
)

// ListNotifications fetches the signed-in user's notifications, newest
// first as ordered by the server. Flat, enveloped and paginated payloads
// all yield one slice; the pagination is nil when the server sent none.
func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, *Pagination, error) {
	body, status, err := c.send(ctx, http.MethodGet, "/notifications", nil)
	if err != nil {
		return nil, nil, err
	}

	items, page, err := decodeList[model.Notification](body)
	if err != nil {
		return nil, nil, &Error{
			Kind: KindDecode, Status: status, Method: http.MethodGet,
			Path: "/notifications", Err: err,
		}
	}
	return items, page, nil
}

// UnreadCount returns the server's unread notification counter.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, "/notifications/unread-count", &raw); err != nil {
		return 0, err
	}

	var body struct {
		Count *int `json:"count"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Count != nil {
		return *body.Count, nil
	}

	// Some deployments send the bare number as data.
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, &Error{
			Kind: KindDecode, Method: http.MethodGet,
			Path: "/notifications/unread-count", Err: err,
		}
	}
	return n, nil
}

// MarkRead marks one notification as read.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	return c.Post(ctx, fmt.Sprintf("/notifications/%d/read", id), nil, nil)
}

// MarkUnread clears the read timestamp of one notification.
func (c *Client) MarkUnread(ctx context.Context, id int64) error {
	return c.Post(ctx, fmt.Sprintf("/notifications/%d/unread", id), nil, nil)
}

// MarkAllRead marks every notification of the user as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.Post(ctx, "/notifications/mark-all-read", nil, nil)
}

// DeleteNotification removes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id int64) error {
	return c.Delete(ctx, fmt.Sprintf("/notifications/%d", id), nil)
}

// DeleteReadNotifications removes every notification already read.
func (c *Client) DeleteReadNotifications(ctx context.Context) error {
	return c.Delete(ctx, "/notifications/read", nil)
}
