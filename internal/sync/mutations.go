package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/model"
)

// A failed confirmation reverts only what the optimistic step changed,
// and only on items still cached, then re-reads the counter.

type readUndo struct {
	id     int64
	readAt *time.Time
}

type removed struct {
	index int
	item  model.Notification
}

// MarkAsRead stamps id as read locally, confirms with the server and
// refreshes the unread counter.
func (p *Poller) MarkAsRead(ctx context.Context, id int64) error {
	now := p.now().UTC()
	undo := p.setReadLocal(func(n model.Notification) bool { return n.ID == id }, &now)

	if err := p.api.MarkRead(ctx, id); err != nil {
		p.revertRead(undo)
		p.reconcile(ctx, err)
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}

	p.mirrorReadAt(ctx, []int64{id}, &now)
	p.refreshCountAfter(ctx)
	return nil
}

// MarkAsUnread clears the read timestamp of id.
func (p *Poller) MarkAsUnread(ctx context.Context, id int64) error {
	undo := p.setReadLocal(func(n model.Notification) bool { return n.ID == id }, nil)

	if err := p.api.MarkUnread(ctx, id); err != nil {
		p.revertRead(undo)
		p.reconcile(ctx, err)
		return fmt.Errorf("marking notification %d unread: %w", id, err)
	}

	p.mirrorReadAt(ctx, []int64{id}, nil)
	p.refreshCountAfter(ctx)
	return nil
}

// MarkAllAsRead stamps every cached unread notification as read.
func (p *Poller) MarkAllAsRead(ctx context.Context) error {
	now := p.now().UTC()
	undo := p.setReadLocal(func(model.Notification) bool { return true }, &now)

	if err := p.api.MarkAllRead(ctx); err != nil {
		p.revertRead(undo)
		p.reconcile(ctx, err)
		return fmt.Errorf("marking all notifications read: %w", err)
	}

	ids := make([]int64, 0, len(undo))
	for _, u := range undo {
		ids = append(ids, u.id)
	}
	p.mirrorReadAt(ctx, ids, &now)
	p.refreshCountAfter(ctx)
	return nil
}

// DeleteNotification removes id from the cache and the server.
func (p *Poller) DeleteNotification(ctx context.Context, id int64) error {
	gone := p.removeLocal(func(n model.Notification) bool { return n.ID == id })

	if err := p.api.DeleteNotification(ctx, id); err != nil {
		p.restoreRemoved(gone)
		p.reconcile(ctx, err)
		return fmt.Errorf("deleting notification %d: %w", id, err)
	}

	p.mirrorDelete(ctx, gone)
	p.refreshCountAfter(ctx)
	return nil
}

// DeleteReadNotifications removes every read notification. Deleting read
// items cannot change the unread counter, so it is not refreshed.
func (p *Poller) DeleteReadNotifications(ctx context.Context) error {
	gone := p.removeLocal(model.Notification.IsRead)

	if err := p.api.DeleteReadNotifications(ctx); err != nil {
		p.restoreRemoved(gone)
		p.reconcile(ctx, err)
		return fmt.Errorf("deleting read notifications: %w", err)
	}

	p.mirrorDelete(ctx, gone)
	return nil
}

// setReadLocal sets the read timestamp of matching items whose read state
// differs, adjusting the counter, and returns what it replaced.
func (p *Poller) setReadLocal(match func(model.Notification) bool, readAt *time.Time) []readUndo {
	p.mu.Lock()
	var undo []readUndo
	for i := range p.notifications {
		n := &p.notifications[i]
		if !match(*n) || n.IsRead() == (readAt != nil) {
			continue
		}
		undo = append(undo, readUndo{id: n.ID, readAt: n.ReadAt})
		n.ReadAt = copyTime(readAt)
		if readAt == nil {
			p.unread++
		} else if p.unread > 0 {
			p.unread--
		}
	}
	p.mu.Unlock()

	if len(undo) > 0 {
		p.publish()
	}
	return undo
}

func (p *Poller) revertRead(undo []readUndo) {
	if len(undo) == 0 {
		return
	}

	p.mu.Lock()
	byID := make(map[int64]int, len(p.notifications))
	for i, n := range p.notifications {
		byID[n.ID] = i
	}
	for _, u := range undo {
		i, ok := byID[u.id]
		if !ok {
			continue
		}
		n := &p.notifications[i]
		wasRead, willBeRead := n.IsRead(), u.readAt != nil
		n.ReadAt = u.readAt
		switch {
		case wasRead && !willBeRead:
			p.unread++
		case !wasRead && willBeRead && p.unread > 0:
			p.unread--
		}
	}
	p.mu.Unlock()
	p.publish()
}

// removeLocal drops matching items and returns them with their positions.
func (p *Poller) removeLocal(match func(model.Notification) bool) []removed {
	p.mu.Lock()
	var gone []removed
	kept := make([]model.Notification, 0, len(p.notifications))
	for i, n := range p.notifications {
		if match(n) {
			gone = append(gone, removed{index: i, item: n})
			if !n.IsRead() && p.unread > 0 {
				p.unread--
			}
			continue
		}
		kept = append(kept, n)
	}
	if len(gone) > 0 {
		p.notifications = kept
	}
	p.mu.Unlock()

	if len(gone) > 0 {
		p.publish()
	}
	return gone
}

// restoreRemoved puts removed items back at their former positions,
// skipping any that reappeared meanwhile.
func (p *Poller) restoreRemoved(gone []removed) {
	if len(gone) == 0 {
		return
	}

	p.mu.Lock()
	present := make(map[int64]bool, len(p.notifications))
	for _, n := range p.notifications {
		present[n.ID] = true
	}
	for _, r := range gone {
		if present[r.item.ID] {
			continue
		}
		idx := r.index
		if idx > len(p.notifications) {
			idx = len(p.notifications)
		}
		p.notifications = append(p.notifications, model.Notification{})
		copy(p.notifications[idx+1:], p.notifications[idx:])
		p.notifications[idx] = r.item
		if !r.item.IsRead() {
			p.unread++
		}
	}
	p.mu.Unlock()
	p.publish()
}

// reconcile re-reads the counter after a failed confirmation. A 401 has
// already ended the session, so nothing is fetched.
func (p *Poller) reconcile(ctx context.Context, cause error) {
	p.logger.Warn("notification update rejected; reverted", zap.Error(cause))
	if api.IsUnauthorized(cause) {
		return
	}
	if err := p.FetchUnreadCount(ctx); err != nil {
		p.logger.Warn("reconciling unread count failed", zap.Error(err))
	}
}

func (p *Poller) refreshCountAfter(ctx context.Context) {
	if err := p.FetchUnreadCount(ctx); err != nil {
		p.logger.Warn("refreshing unread count failed", zap.Error(err))
	}
}

func (p *Poller) mirrorReadAt(ctx context.Context, ids []int64, readAt *time.Time) {
	uid := p.currentUser()
	if p.store == nil || uid == 0 || len(ids) == 0 {
		return
	}
	if err := p.store.SetReadAt(ctx, uid, ids, readAt); err != nil {
		p.logger.Warn("mirroring read state failed", zap.Error(err))
	}
}

func (p *Poller) mirrorDelete(ctx context.Context, gone []removed) {
	uid := p.currentUser()
	if p.store == nil || uid == 0 || len(gone) == 0 {
		return
	}
	ids := make([]int64, 0, len(gone))
	for _, r := range gone {
		ids = append(ids, r.item.ID)
	}
	if err := p.store.DeleteNotifications(ctx, uid, ids); err != nil {
		p.logger.Warn("mirroring deletion failed", zap.Error(err))
	}
}

func (p *Poller) currentUser() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
