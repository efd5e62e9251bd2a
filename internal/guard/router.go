package guard

import (
	gosync "sync"
)

// Application routes.
const (
	RouteLogin         = "/login"
	RouteNotifications = "/notifications"
	RouteSettings      = "/settings/project"
)

// Router tracks the current location of the application.
type Router struct {
	mu       gosync.RWMutex
	location string
	visit    uint64
	subs     map[int]func(string)
	nextSub  int
}

// NewRouter creates a Router positioned at start.
func NewRouter(start string) *Router {
	return &Router{
		location: start,
		subs:     make(map[int]func(string)),
	}
}

// Location returns the current route.
func (r *Router) Location() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.location
}

// Visit returns the current route and a counter that increases on every
// location change, so two visits to the same route can be told apart.
func (r *Router) Visit() (string, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.location, r.visit
}

// Navigate moves to route and notifies subscribers. Navigating to the
// current location does nothing.
func (r *Router) Navigate(route string) {
	r.mu.Lock()
	if r.location == route {
		r.mu.Unlock()
		return
	}
	r.location = route
	r.visit++
	fns := make([]func(string), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(route)
	}
}

// Subscribe registers fn to be called with the new route after every
// location change.
func (r *Router) Subscribe(fn func(route string)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}
