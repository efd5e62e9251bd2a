// Package guard decides whether the signed-in user may see a route and
// moves the router when they may not.
package guard

import (
	gosync "sync"

	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/logger"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
)

// SessionSource is the read side of the session store.
type SessionSource interface {
	// Snapshot returns the session together with its generation.
	Snapshot() (model.Session, uint64)
	Subscribe(fn func(session.Change)) (unsubscribe func())
}

// Options configures a Guard.
type Options struct {
	Router  *Router
	Session SessionSource

	// Policies maps routes to their access rule. Routes without an entry
	// are public.
	Policies map[string]Policy

	LoginRoute   string
	LandingRoute string
	Logger       *zap.Logger
}

type redirectKey struct {
	route      string
	generation uint64
	visit      uint64
	target     string
}

// Guard evaluates route policies against the current session.
type Guard struct {
	router  *Router
	session SessionSource
	targets Targets
	logger  *zap.Logger

	mu         gosync.Mutex
	policies   map[string]Policy
	redirected map[redirectKey]struct{}
	observers  map[int]func(route string, d Decision)
	nextObs    int
}

// New creates a Guard. The landing route defaults to requiring any
// signed-in user.
func New(opts Options) *Guard {
	g := &Guard{
		router:  opts.Router,
		session: opts.Session,
		targets: Targets{
			Login:   opts.LoginRoute,
			Landing: opts.LandingRoute,
		},
		logger:     logger.OrNop(opts.Logger).Named("guard"),
		policies:   make(map[string]Policy, len(opts.Policies)+1),
		redirected: make(map[redirectKey]struct{}),
		observers:  make(map[int]func(string, Decision)),
	}
	if g.targets.Login == "" {
		g.targets.Login = RouteLogin
	}
	if g.targets.Landing == "" {
		g.targets.Landing = RouteNotifications
	}
	for route, p := range opts.Policies {
		g.policies[route] = p
	}
	if _, ok := g.policies[g.targets.Landing]; !ok {
		g.policies[g.targets.Landing] = Authenticated()
	}
	// The login route must stay reachable for signed-out users.
	delete(g.policies, g.targets.Login)
	return g
}

// Policy returns the rule for route.
func (g *Guard) Policy(route string) (Policy, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.policies[route]
	return p, ok
}

// SetPolicy replaces the rule for route and re-evaluates the current
// location.
func (g *Guard) SetPolicy(route string, p Policy) {
	g.mu.Lock()
	if route == g.targets.Login {
		g.mu.Unlock()
		return
	}
	g.policies[route] = p
	g.mu.Unlock()

	g.Refresh()
}

// Evaluate decides route for the current session. A redirect moves the
// router at most once per route, session generation, router visit and
// target; a redirect that would loop is reported as OutcomeDenied
// instead.
func (g *Guard) Evaluate(route string) Decision {
	sess, gen := g.session.Snapshot()
	var visit uint64
	if g.router != nil {
		_, visit = g.router.Visit()
	}

	g.mu.Lock()
	policy, guarded := g.policies[route]
	if !guarded {
		g.mu.Unlock()
		return Decision{Outcome: OutcomeRender}
	}

	d := Decide(sess, policy, g.targets)
	if d.Outcome != OutcomeRedirect {
		g.mu.Unlock()
		return d
	}

	if d.Target == route || !g.reachableLocked(sess, d.Target) {
		g.mu.Unlock()
		g.logger.Warn("redirect would loop; showing placeholder",
			zap.String("route", route), zap.String("target", d.Target))
		return Decision{Outcome: OutcomeDenied, Fallback: FallbackAccessDenied}
	}

	key := redirectKey{route: route, generation: gen, visit: visit, target: d.Target}
	if _, done := g.redirected[key]; done {
		g.mu.Unlock()
		return d
	}
	for k := range g.redirected {
		if k.generation != gen || k.visit != visit {
			delete(g.redirected, k)
		}
	}
	g.redirected[key] = struct{}{}
	g.mu.Unlock()

	if g.router != nil && g.router.Location() != d.Target {
		g.logger.Debug("redirecting",
			zap.String("route", route), zap.String("target", d.Target))
		g.router.Navigate(d.Target)
		d.Navigated = true
	}
	return d
}

// reachableLocked reports whether target would render for sess.
func (g *Guard) reachableLocked(sess model.Session, target string) bool {
	p, guarded := g.policies[target]
	if !guarded {
		return true
	}
	return Decide(sess, p, g.targets).Outcome == OutcomeRender
}

// Refresh evaluates the router's current location and reports the
// decision to observers.
func (g *Guard) Refresh() Decision {
	if g.router == nil {
		return Decision{Outcome: OutcomeRender}
	}
	route := g.router.Location()
	d := g.Evaluate(route)

	g.mu.Lock()
	fns := make([]func(string, Decision), 0, len(g.observers))
	for _, fn := range g.observers {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(route, d)
	}
	return d
}

// Observe registers fn to receive every decision made by Refresh.
func (g *Guard) Observe(fn func(route string, d Decision)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextObs
	g.nextObs++
	g.observers[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.observers, id)
		g.mu.Unlock()
	}
}

// Watch re-evaluates the current location whenever the session changes
// or the router moves. Call the returned function to stop.
func (g *Guard) Watch() (stop func()) {
	unsubSession := g.session.Subscribe(func(session.Change) {
		g.Refresh()
	})
	unsubRouter := func() {}
	if g.router != nil {
		unsubRouter = g.router.Subscribe(func(string) {
			g.Refresh()
		})
	}
	return func() {
		unsubSession()
		unsubRouter()
	}
}
