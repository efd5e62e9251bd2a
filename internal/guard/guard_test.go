package guard

import (
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/logger"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
)

type fakeSession struct {
	mu   gosync.Mutex
	sess model.Session
	gen  uint64
	subs map[int]func(session.Change)
	next int
}

func newFakeSession(roles ...string) *fakeSession {
	f := &fakeSession{subs: make(map[int]func(session.Change))}
	if roles != nil {
		f.sess = sessionWith(roles...)
	}
	return f
}

func sessionWith(roles ...string) model.Session {
	u := &model.User{ID: 42, Name: "Uma", Roles: []model.Role{}}
	for i, r := range roles {
		u.Roles = append(u.Roles, model.Role{ID: int64(i + 1), Name: r})
	}
	return model.Session{Token: "abc123", User: u}
}

func (f *fakeSession) Snapshot() (model.Session, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, f.gen
}

func (f *fakeSession) Subscribe(fn func(session.Change)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeSession) set(s model.Session) {
	f.mu.Lock()
	f.sess = s
	f.gen++
	change := session.Change{Session: s, Generation: f.gen}
	fns := make([]func(session.Change), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// countingRouter records every location change.
func countingRouter(start string) (*Router, func() []string) {
	r := NewRouter(start)
	var mu gosync.Mutex
	var visits []string
	r.Subscribe(func(route string) {
		mu.Lock()
		visits = append(visits, route)
		mu.Unlock()
	})
	return r, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), visits...)
	}
}

func newGuard(t *testing.T, r *Router, s SessionSource, policies map[string]Policy) *Guard {
	t.Helper()
	return New(Options{
		Router:   r,
		Session:  s,
		Policies: policies,
		Logger:   logger.NewTest(t),
	})
}

func TestDecide(t *testing.T) {
	targets := Targets{Login: RouteLogin, Landing: RouteNotifications}
	admin := RequireRoles(MatchExact, "admin")

	tests := []struct {
		name     string
		session  model.Session
		policy   Policy
		want     Outcome
		target   string
		fallback Fallback
	}{
		{"no user", model.Session{}, admin, OutcomeRedirect, RouteLogin, FallbackNone},
		{"token without user", model.Session{Token: "t"}, Authenticated(), OutcomeRedirect, RouteLogin, FallbackNone},
		{"matching role", sessionWith("admin"), admin, OutcomeRender, "", FallbackNone},
		{"one of several roles", sessionWith("viewer", "admin"), admin, OutcomeRender, "", FallbackNone},
		{"no roles", sessionWith(), admin, OutcomeRedirect, RouteNotifications, FallbackAccessDenied},
		{"case differs", sessionWith("Admin"), admin, OutcomeRedirect, RouteNotifications, FallbackAccessDenied},
		{"case folded", sessionWith("Admin"), RequireRoles(MatchFold, "admin"), OutcomeRender, "", FallbackNone},
		{"any authenticated", sessionWith(), Authenticated(), OutcomeRender, "", FallbackNone},
		{"empty allowed set", sessionWith("admin"), Policy{}, OutcomeRedirect, RouteNotifications, FallbackAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.session, tt.policy, targets)
			assert.Equal(t, tt.want, d.Outcome)
			assert.Equal(t, tt.target, d.Target)
			assert.Equal(t, tt.fallback, d.Fallback)
		})
	}
}

func TestRoleSet(t *testing.T) {
	exact := NewRoleSet(MatchExact, "admin", "", "manager")
	assert.Equal(t, []string{"admin", "manager"}, exact.Names())
	assert.True(t, exact.Contains("admin"))
	assert.False(t, exact.Contains("ADMIN"))

	fold := NewRoleSet(MatchFold, "Admin")
	assert.True(t, fold.Contains("ADMIN"))
	assert.True(t, NewRoleSet(MatchExact).Empty())
	assert.False(t, RoleSet{}.Intersects([]model.Role{{Name: "admin"}}))
}

func TestEvaluate_NoRolesRedirectsExactlyOnce(t *testing.T) {
	r, visits := countingRouter(RouteSettings)
	sess := newFakeSession()
	sess.set(sessionWith())
	g := newGuard(t, r, sess, map[string]Policy{
		RouteSettings: RequireRoles(MatchExact, "admin"),
	})

	first := g.Evaluate(RouteSettings)
	assert.Equal(t, OutcomeRedirect, first.Outcome)
	assert.True(t, first.Navigated)
	assert.Equal(t, FallbackAccessDenied, first.Fallback)

	for i := 0; i < 3; i++ {
		d := g.Evaluate(RouteSettings)
		assert.NotEqual(t, OutcomeRender, d.Outcome)
		assert.False(t, d.Navigated)
	}

	assert.Equal(t, []string{RouteNotifications}, visits())
	assert.Equal(t, RouteNotifications, r.Location())
}

func TestEvaluate_SignedOutGoesToLogin(t *testing.T) {
	r, visits := countingRouter(RouteNotifications)
	g := newGuard(t, r, newFakeSession(), nil)

	d := g.Evaluate(RouteNotifications)
	assert.Equal(t, OutcomeRedirect, d.Outcome)
	assert.Equal(t, RouteLogin, d.Target)
	assert.Equal(t, []string{RouteLogin}, visits())

	// Login itself is always public.
	assert.Equal(t, OutcomeRender, g.Evaluate(RouteLogin).Outcome)
}

func TestEvaluate_PublicRoute(t *testing.T) {
	g := newGuard(t, NewRouter(RouteLogin), newFakeSession(), nil)
	assert.Equal(t, OutcomeRender, g.Evaluate("/about").Outcome)
}

func TestEvaluate_LandingDeniedDoesNotLoop(t *testing.T) {
	r, visits := countingRouter(RouteSettings)
	sess := newFakeSession()
	sess.set(sessionWith("viewer"))
	g := newGuard(t, r, sess, map[string]Policy{
		RouteSettings:      RequireRoles(MatchExact, "admin"),
		RouteNotifications: RequireRoles(MatchExact, "admin"),
	})

	// Landing itself would deny, so no redirect is attempted.
	d := g.Evaluate(RouteSettings)
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.Equal(t, FallbackAccessDenied, d.Fallback)

	d = g.Evaluate(RouteNotifications)
	assert.Equal(t, OutcomeDenied, d.Outcome)

	assert.Empty(t, visits())
}

func TestEvaluate_NewSessionAllowsNewRedirect(t *testing.T) {
	r := NewRouter(RouteSettings)
	sess := newFakeSession()
	sess.set(sessionWith())
	g := newGuard(t, r, sess, map[string]Policy{
		RouteSettings: RequireRoles(MatchExact, "admin"),
	})

	require.True(t, g.Evaluate(RouteSettings).Navigated)

	sess.set(sessionWith("viewer"))
	r.Navigate(RouteSettings)
	assert.True(t, g.Evaluate(RouteSettings).Navigated)
	assert.Equal(t, RouteNotifications, r.Location())
}

func TestWatch_RevisitingDeniedRouteRedirectsEachTime(t *testing.T) {
	r, visits := countingRouter(RouteNotifications)
	sess := newFakeSession()
	sess.set(sessionWith())
	g := newGuard(t, r, sess, map[string]Policy{
		RouteSettings: RequireRoles(MatchExact, "admin"),
	})
	stop := g.Watch()
	defer stop()

	r.Navigate(RouteSettings)
	assert.Equal(t, RouteNotifications, r.Location())

	r.Navigate(RouteSettings)
	assert.Equal(t, RouteNotifications, r.Location())

	// Subscribers run in no fixed order, so only the multiset is stable.
	assert.ElementsMatch(t, []string{
		RouteSettings, RouteNotifications,
		RouteSettings, RouteNotifications,
	}, visits())

	// Re-evaluating the landing page is stable: no further moves.
	assert.Equal(t, OutcomeRender, g.Refresh().Outcome)
	assert.Len(t, visits(), 4)
}

func TestEvaluate_PrunesRedirectsFromEarlierVisits(t *testing.T) {
	r := NewRouter(RouteNotifications)
	sess := newFakeSession()
	sess.set(sessionWith())
	g := newGuard(t, r, sess, map[string]Policy{
		RouteSettings: RequireRoles(MatchExact, "admin"),
	})

	for i := 0; i < 5; i++ {
		r.Navigate(RouteSettings)
		require.True(t, g.Evaluate(RouteSettings).Navigated)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.LessOrEqual(t, len(g.redirected), 1)
}

func TestWatch_ReevaluatesOnSessionChange(t *testing.T) {
	r := NewRouter(RouteSettings)
	sess := newFakeSession()
	sess.set(sessionWith("admin"))
	g := newGuard(t, r, sess, map[string]Policy{
		RouteSettings: RequireRoles(MatchExact, "admin"),
	})
	stop := g.Watch()
	defer stop()

	var mu gosync.Mutex
	var seen []Outcome
	g.Observe(func(_ string, d Decision) {
		mu.Lock()
		seen = append(seen, d.Outcome)
		mu.Unlock()
	})

	assert.Equal(t, OutcomeRender, g.Refresh().Outcome)

	// Role revoked: the settings screen must not stay visible.
	sess.set(sessionWith("viewer"))
	assert.Equal(t, RouteNotifications, r.Location())

	// Signed out: everything guarded goes to login.
	sess.set(model.Session{})
	assert.Equal(t, RouteLogin, r.Location())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, OutcomeRender, seen[0])
	assert.Contains(t, seen, OutcomeRedirect)
}

func TestSetPolicy_Reevaluates(t *testing.T) {
	r := NewRouter(RouteSettings)
	sess := newFakeSession()
	sess.set(sessionWith("admin"))
	g := newGuard(t, r, sess, map[string]Policy{
		RouteSettings: RequireRoles(MatchExact, "admin"),
	})

	assert.Equal(t, OutcomeRender, g.Evaluate(RouteSettings).Outcome)

	g.SetPolicy(RouteSettings, RequireRoles(MatchExact, "owner"))
	assert.Equal(t, RouteNotifications, r.Location())

	// The login route cannot be guarded.
	g.SetPolicy(RouteLogin, RequireRoles(MatchExact, "admin"))
	_, guarded := g.Policy(RouteLogin)
	assert.False(t, guarded)
}

func TestRouter_NavigateToCurrentIsNoop(t *testing.T) {
	r, visits := countingRouter(RouteLogin)

	r.Navigate(RouteLogin)
	r.Navigate(RouteNotifications)
	r.Navigate(RouteNotifications)

	assert.Equal(t, []string{RouteNotifications}, visits())
}
