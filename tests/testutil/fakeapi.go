package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/taskdesk/internal/model"
)

// Default identity served by FakeAPI.
const (
	FakeEmail    = "u@x.com"
	FakePassword = "p"
	FakeToken    = "abc123"
	FakeUserID   = 42
)

// RecordedRequest is one request seen by FakeAPI.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

// FakeAPI is an in-process stand-in for the web application's REST API.
// Every route lives under /api/v1 and, except login, requires the bearer
// token handed out by login.
type FakeAPI struct {
	Server *httptest.Server

	mu            gosync.Mutex
	user          model.User
	token         string
	notifications []model.Notification
	settings      model.ProjectSettings
	failures      map[string]int
	gates         map[string]chan struct{}
	requests      []RecordedRequest
}

// NewFakeAPI starts a FakeAPI seeded with user 42 (role "admin") and an
// empty inbox. The server is closed when the test completes.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()

	f := &FakeAPI{
		user: model.User{
			ID:    FakeUserID,
			Name:  "Uma Example",
			Email: FakeEmail,
			Roles: []model.Role{{ID: 1, Name: "admin"}},
		},
		token:    FakeToken,
		settings: model.ProjectSettings{AllowMultipleClientsPerProject: true, MaxClientsPerProject: 3},
		failures: make(map[string]int),
		gates:    make(map[string]chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(f.record)
	r.Use(f.injectFailures)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", f.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(f.requireToken)
			r.Post("/auth/logout", f.handleLogout)
			r.Get("/auth/me", f.handleMe)
			r.Get("/notifications", f.handleList)
			r.Get("/notifications/unread-count", f.handleUnreadCount)
			r.Post("/notifications/mark-all-read", f.handleMarkAllRead)
			r.Delete("/notifications/read", f.handleDeleteRead)
			r.Post("/notifications/{id}/read", f.handleSetRead(true))
			r.Post("/notifications/{id}/unread", f.handleSetRead(false))
			r.Delete("/notifications/{id}", f.handleDelete)
			r.Get("/settings/project", f.handleSettings)
		})
	})

	f.Server = httptest.NewServer(r)
	t.Cleanup(func() {
		f.ReleaseAll()
		f.Server.Close()
	})

	return f
}

// URL returns the base URL to configure an api.Client with.
func (f *FakeAPI) URL() string {
	return f.Server.URL
}

// SetUser replaces the identity returned by login and /auth/me.
func (f *FakeAPI) SetUser(u model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = u
}

// SetToken changes the token the server accepts (and hands out on login).
func (f *FakeAPI) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// SetNotifications seeds the server-side inbox.
func (f *FakeAPI) SetNotifications(ns []model.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append([]model.Notification(nil), ns...)
}

// Notifications returns a copy of the server-side inbox.
func (f *FakeAPI) Notifications() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Notification(nil), f.notifications...)
}

// Fail makes every request matching method and path (without the
// /api/v1 prefix) answer with status until ClearFailures.
func (f *FakeAPI) Fail(method, path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+path] = status
}

// ClearFailures removes every injected failure.
func (f *FakeAPI) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]int)
}

// Hold blocks requests to method and path until the returned release
// function is called.
func (f *FakeAPI) Hold(method, path string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[method+" "+path] = ch
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		owned := f.gates[method+" "+path] == ch
		if owned {
			delete(f.gates, method+" "+path)
		}
		f.mu.Unlock()
		if owned {
			close(ch)
		}
	}
}

// ReleaseAll unblocks every held route.
func (f *FakeAPI) ReleaseAll() {
	f.mu.Lock()
	gates := f.gates
	f.gates = make(map[string]chan struct{})
	f.mu.Unlock()
	for _, ch := range gates {
		close(ch)
	}
}

// Requests returns every recorded request in arrival order.
func (f *FakeAPI) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// Count returns how many requests hit method and path.
func (f *FakeAPI) Count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent request to method and path.
func (f *FakeAPI) Last(method, path string) (RecordedRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		r := f.requests[i]
		if r.Method == method && r.Path == path {
			return r, true
		}
	}
	return RecordedRequest{}, false
}

func routeKey(r *http.Request) string {
	return r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api/v1")
}

func (f *FakeAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{
			Method:        r.Method,
			Path:          strings.TrimPrefix(r.URL.Path, "/api/v1"),
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		gate := f.gates[routeKey(r)]
		f.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.failures[routeKey(r)]
		f.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]any{
				"success": false,
				"message": http.StatusText(status),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		want := "Bearer " + f.token
		f.mu.Unlock()

		if r.Header.Get("Authorization") != want {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"message": "Unauthenticated.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "bad json"})
		return
	}

	f.mu.Lock()
	user, token := f.user, f.token
	f.mu.Unlock()

	if creds.Email != user.Email || creds.Password != FakePassword {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"message": "The given data was invalid.",
			"errors":  map[string][]string{"email": {"These credentials do not match our records."}},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (f *FakeAPI) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

func (f *FakeAPI) handleMe(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	user := f.user
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": user})
}

func (f *FakeAPI) handleList(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	list := append([]model.Notification{}, f.notifications...)
	f.mu.Unlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"data":         list,
			"current_page": 1,
			"last_page":    1,
			"per_page":     50,
			"total":        len(list),
		},
	})
}

func (f *FakeAPI) handleUnreadCount(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	n := 0
	for _, item := range f.notifications {
		if item.ReadAt == nil {
			n++
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]int{"count": n}})
}

func (f *FakeAPI) handleSetRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Not found"})
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.notifications {
			if f.notifications[i].ID != id {
				continue
			}
			if read {
				now := time.Now().UTC()
				f.notifications[i].ReadAt = &now
			} else {
				f.notifications[i].ReadAt = nil
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": f.notifications[i]})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Not found"})
	}
}

func (f *FakeAPI) handleMarkAllRead(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	now := time.Now().UTC()
	for i := range f.notifications {
		if f.notifications[i].ReadAt == nil {
			f.notifications[i].ReadAt = &now
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (f *FakeAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Not found"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == id {
			f.notifications = append(f.notifications[:i], f.notifications[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Not found"})
}

func (f *FakeAPI) handleDeleteRead(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	kept := f.notifications[:0]
	for _, n := range f.notifications {
		if n.ReadAt == nil {
			kept = append(kept, n)
		}
	}
	f.notifications = kept
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (f *FakeAPI) handleSettings(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	settings := f.settings
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": settings})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
