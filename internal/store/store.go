package store

import (
	"context"
	"time"

	"github.com/nhle/taskdesk/internal/model"
)

// Store is the local mirror of a user's notification inbox. It lets the
// inbox render on start-up before the first server fetch completes. The
// server stays authoritative: every fetch replaces the mirror wholesale.
type Store interface {
	// ReplaceNotifications swaps the mirrored list for userID with ns,
	// preserving ns order.
	ReplaceNotifications(ctx context.Context, userID int64, ns []model.Notification) error

	// GetNotifications returns the mirrored list for userID in the order it
	// was stored.
	GetNotifications(ctx context.Context, userID int64) ([]model.Notification, error)

	// SetReadAt sets (or clears, when readAt is nil) the read timestamp of
	// the given notifications. A nil ids slice targets all of them.
	SetReadAt(ctx context.Context, userID int64, ids []int64, readAt *time.Time) error

	// DeleteNotifications removes the given notifications.
	DeleteNotifications(ctx context.Context, userID int64, ids []int64) error

	// DeleteReadNotifications removes every notification with a read timestamp.
	DeleteReadNotifications(ctx context.Context, userID int64) error

	// SetUnreadCount records the last server-reported unread counter.
	SetUnreadCount(ctx context.Context, userID int64, count int) error

	// GetUnreadCount returns the last recorded unread counter, or 0.
	GetUnreadCount(ctx context.Context, userID int64) (int, error)

	// Clear drops everything mirrored for userID.
	Clear(ctx context.Context, userID int64) error

	Close() error
}
