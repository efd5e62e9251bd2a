// Package sync keeps the signed-in user's notification inbox in memory,
// applies read/delete actions optimistically, and polls the server for
// the unread counter while a session is active.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/logger"
	"github.com/nhle/taskdesk/internal/metrics"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
	"github.com/nhle/taskdesk/internal/store"
)

// DefaultInterval is how often the unread counter is refreshed.
const DefaultInterval = 30 * time.Second

// fetchTimeout is the maximum time allowed for a single background fetch.
const fetchTimeout = 30 * time.Second

// State is the inbox loading state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// NotificationAPI is the subset of the API client the poller calls.
type NotificationAPI interface {
	ListNotifications(ctx context.Context) ([]model.Notification, *api.Pagination, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkUnread(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id int64) error
	DeleteReadNotifications(ctx context.Context) error
}

// SessionSource is the read side of the session store.
type SessionSource interface {
	Current() model.Session
	Subscribe(fn func(session.Change)) (unsubscribe func())
}

// Ticker is the part of time.Ticker the poll loop uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Options configures a Poller.
type Options struct {
	// Interval between unread-count refreshes. Defaults to 30s.
	Interval time.Duration

	// Store mirrors the inbox locally. Optional.
	Store store.Store

	Logger  *zap.Logger
	Metrics *metrics.Collector

	// NewTicker and Now replace the clock in tests.
	NewTicker func(time.Duration) Ticker
	Now       func() time.Time
}

// Snapshot is a consistent copy of the poller's observable state.
type Snapshot struct {
	Notifications []model.Notification
	Unread        int
	State         State
	Err           error
	LastFetch     time.Time
}

// UpdateMsg is a tea.Msg sent whenever the inbox changes.
type UpdateMsg struct {
	Snapshot Snapshot
}

// Poller owns the notification cache for one session at a time.
type Poller struct {
	api       NotificationAPI
	store     store.Store
	logger    *zap.Logger
	metrics   *metrics.Collector
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	now       func() time.Time
	updates   chan UpdateMsg

	mu            gosync.Mutex
	notifications []model.Notification
	unread        int
	state         State
	lastErr       error
	lastFetch     time.Time
	userID        int64
	epoch         uint64
	running       bool
	cancel        context.CancelFunc
	unbind        func()
}

// New creates a Poller. It does nothing until Start or BindSession.
func New(client NotificationAPI, opts Options) *Poller {
	p := &Poller{
		api:       client,
		store:     opts.Store,
		logger:    logger.OrNop(opts.Logger).Named("poller"),
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		newTicker: opts.NewTicker,
		now:       opts.Now,
		updates:   make(chan UpdateMsg, 16),
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.newTicker == nil {
		p.newTicker = newTimeTicker
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Snapshot returns a copy of the current inbox state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Poller) snapshotLocked() Snapshot {
	return Snapshot{
		Notifications: cloneNotifications(p.notifications),
		Unread:        p.unread,
		State:         p.state,
		Err:           p.lastErr,
		LastFetch:     p.lastFetch,
	}
}

// Running reports whether the polling task is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches the polling task: one immediate fetch of the list and
// the counter, then a counter refresh every interval. Calling Start while
// running does nothing and returns nil; otherwise it returns a command
// that delivers the next UpdateMsg.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.epoch++
	epoch := p.epoch
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	needMirror := len(p.notifications) == 0
	p.mu.Unlock()

	if needMirror {
		p.loadMirror(ctx, epoch)
	}

	go p.pollLoop(ctx, epoch)

	return p.WaitForNextUpdate()
}

// Stop cancels the polling task. It does not wait for an in-flight fetch
// to return; results arriving after Stop are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.cancel()
	p.cancel = nil
	p.running = false
	p.epoch++
}

// Reset drops the cache, counter and error and clears the local mirror.
// It is meant to follow Stop.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.notifications = nil
	p.unread = 0
	p.state = StateIdle
	p.lastErr = nil
	p.lastFetch = time.Time{}
	if !p.running {
		// Discard results of fetches started before the reset.
		p.epoch++
	}
	uid := p.userID
	p.mu.Unlock()

	if p.store != nil && uid != 0 {
		if err := p.store.Clear(context.Background(), uid); err != nil {
			p.logger.Warn("clearing notification mirror failed", zap.Error(err))
		}
	}
	p.metrics.SetUnread(0)
	p.publish()
}

// BindSession ties the polling task to the session lifecycle: an active
// session starts it, the end of the session stops it and resets the
// cache. A different user signing in starts from an empty cache.
func (p *Poller) BindSession(src SessionSource) {
	unbind := src.Subscribe(func(c session.Change) {
		p.onSession(c.Session)
	})

	p.mu.Lock()
	prev := p.unbind
	p.unbind = unbind
	p.mu.Unlock()
	if prev != nil {
		prev()
	}

	p.onSession(src.Current())
}

func (p *Poller) onSession(s model.Session) {
	if !s.Active() {
		p.Stop()
		p.Reset()
		return
	}

	p.mu.Lock()
	switched := p.userID != s.User.ID
	p.mu.Unlock()

	if switched {
		p.Stop()
		p.Reset()
		p.mu.Lock()
		p.userID = s.User.ID
		p.mu.Unlock()
	}
	p.Start()
}

// Close unbinds from the session and stops polling.
func (p *Poller) Close() {
	p.mu.Lock()
	unbind := p.unbind
	p.unbind = nil
	p.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	p.Stop()
}

// pollLoop runs the polling task until ctx is cancelled.
func (p *Poller) pollLoop(ctx context.Context, epoch uint64) {
	ticker := p.newTicker(p.interval)
	defer ticker.Stop()

	// Do an initial fetch immediately
	p.fetchList(ctx, epoch)
	p.pollCount(ctx, epoch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.pollCount(ctx, epoch)
		}
	}
}

func (p *Poller) pollCount(ctx context.Context, epoch uint64) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	err := p.fetchCount(fetchCtx, epoch)
	if ctx.Err() != nil {
		return
	}
	p.metrics.PollCycle(err == nil)
}

// FetchNotifications replaces the cache with the server's list. On
// failure the previous cache is kept and the state becomes StateError.
func (p *Poller) FetchNotifications(ctx context.Context) error {
	return p.fetchList(ctx, p.currentEpoch())
}

func (p *Poller) fetchList(ctx context.Context, epoch uint64) error {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return nil
	}
	p.state = StateLoading
	p.mu.Unlock()
	p.publish()

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	items, _, err := p.api.ListNotifications(fetchCtx)

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return err
	}
	if err != nil {
		p.state = StateError
		p.lastErr = err
		p.mu.Unlock()
		p.logger.Warn("fetching notifications failed", zap.Error(err))
		p.publish()
		return fmt.Errorf("fetching notifications: %w", err)
	}
	p.notifications = cloneNotifications(items)
	p.state = StateLoaded
	p.lastErr = nil
	p.lastFetch = p.now()
	uid := p.userID
	p.mu.Unlock()

	if p.store != nil && uid != 0 {
		if err := p.store.ReplaceNotifications(ctx, uid, items); err != nil {
			p.logger.Warn("mirroring notifications failed", zap.Error(err))
		}
	}
	p.logger.Debug("notifications fetched", zap.Int("count", len(items)))
	p.publish()
	return nil
}

// FetchUnreadCount replaces the unread counter with the server's value.
func (p *Poller) FetchUnreadCount(ctx context.Context) error {
	return p.fetchCount(ctx, p.currentEpoch())
}

func (p *Poller) fetchCount(ctx context.Context, epoch uint64) error {
	count, err := p.api.UnreadCount(ctx)
	if err != nil {
		p.logger.Debug("fetching unread count failed", zap.Error(err))
		return fmt.Errorf("fetching unread count: %w", err)
	}

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return nil
	}
	changed := p.unread != count
	p.unread = count
	uid := p.userID
	p.mu.Unlock()

	p.metrics.SetUnread(count)
	if p.store != nil && uid != 0 {
		if err := p.store.SetUnreadCount(ctx, uid, count); err != nil {
			p.logger.Warn("mirroring unread count failed", zap.Error(err))
		}
	}
	if changed {
		p.publish()
	}
	return nil
}

// Refresh fetches the list and the counter once.
func (p *Poller) Refresh(ctx context.Context) error {
	if err := p.FetchNotifications(ctx); err != nil {
		return err
	}
	return p.FetchUnreadCount(ctx)
}

// loadMirror seeds an empty cache from the local store so the inbox has
// something to show before the first fetch returns.
func (p *Poller) loadMirror(ctx context.Context, epoch uint64) {
	p.mu.Lock()
	uid := p.userID
	p.mu.Unlock()
	if p.store == nil || uid == 0 {
		return
	}

	items, err := p.store.GetNotifications(ctx, uid)
	if err != nil {
		p.logger.Warn("loading notification mirror failed", zap.Error(err))
		return
	}
	count, err := p.store.GetUnreadCount(ctx, uid)
	if err != nil {
		p.logger.Warn("loading unread count mirror failed", zap.Error(err))
	}

	p.mu.Lock()
	if p.epoch != epoch || len(p.notifications) > 0 {
		p.mu.Unlock()
		return
	}
	p.notifications = items
	p.unread = count
	p.mu.Unlock()
	p.publish()
}

func (p *Poller) currentEpoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// publish sends an UpdateMsg without blocking.
func (p *Poller) publish() {
	msg := UpdateMsg{Snapshot: p.Snapshot()}
	select {
	case p.updates <- msg:
	default:
		// Drop if channel is full; the next update carries a full snapshot.
	}
}

// WaitForNextUpdate returns a tea.Cmd that waits for the next inbox
// change. Re-issue it after every UpdateMsg to keep listening.
func (p *Poller) WaitForNextUpdate() tea.Cmd {
	return func() tea.Msg {
		return <-p.updates
	}
}

func cloneNotifications(in []model.Notification) []model.Notification {
	if in == nil {
		return nil
	}
	out := make([]model.Notification, len(in))
	copy(out, in)
	return out
}
