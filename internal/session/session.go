// Package session holds the signed-in user's authentication state. The
// Store is the only writer of the durable token; everything else reads
// the session through it and observes changes via Subscribe.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/credential"
	"github.com/nhle/taskdesk/internal/logger"
	"github.com/nhle/taskdesk/internal/model"
)

// Defaults used when Options leaves them empty.
const (
	DefaultLoginRoute = "/login"
	DefaultStorageKey = "auth_token"
)

// ErrInvalidCredentials is returned by Login when the form fails local
// validation; no request is sent.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthAPI is the subset of the API client the store calls.
type AuthAPI interface {
	Login(ctx context.Context, creds api.Credentials) (*api.LoginResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*model.User, error)
}

// Navigator moves the application to another route.
type Navigator interface {
	Navigate(route string)
}

// CookieMirror mirrors the token into a cookie for server-side routing.
type CookieMirror interface {
	MirrorToken(token string)
}

// Reason says which operation produced a Change.
type Reason int

const (
	ReasonLogin Reason = iota + 1
	ReasonCheckAuth
	ReasonLogout
	ReasonUnauthorized
	ReasonCleared
)

func (r Reason) String() string {
	switch r {
	case ReasonLogin:
		return "login"
	case ReasonCheckAuth:
		return "check_auth"
	case ReasonLogout:
		return "logout"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after every session mutation.
type Change struct {
	Session    model.Session
	Reason     Reason
	Generation uint64
}

// Options configures a Store.
type Options struct {
	Credentials credential.Store
	API         AuthAPI
	Navigator   Navigator
	Cookies     CookieMirror
	Logger      *zap.Logger

	// LoginRoute is where the user is sent when the session ends.
	LoginRoute string

	// StorageKey is the durable store key holding the token.
	StorageKey string
}

// Store is the authentication session store.
type Store struct {
	creds      credential.Store
	api        AuthAPI
	nav        Navigator
	cookies    CookieMirror
	logger     *zap.Logger
	loginRoute string
	key        string
	validate   *validator.Validate
	group      singleflight.Group

	mu         gosync.RWMutex
	session    model.Session
	generation uint64

	subsMu  gosync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New creates a Store. The session starts empty; call CheckAuth to
// restore a persisted one.
func New(opts Options) *Store {
	s := &Store{
		creds:      opts.Credentials,
		api:        opts.API,
		nav:        opts.Navigator,
		cookies:    opts.Cookies,
		logger:     logger.OrNop(opts.Logger).Named("session"),
		loginRoute: opts.LoginRoute,
		key:        opts.StorageKey,
		validate:   validator.New(),
		subs:       make(map[int]func(Change)),
	}
	if s.loginRoute == "" {
		s.loginRoute = DefaultLoginRoute
	}
	if s.key == "" {
		s.key = DefaultStorageKey
	}
	if s.creds == nil {
		s.creds = credential.NewMemoryStore()
	}
	return s
}

// Token returns the bearer token, or "" when signed out. It satisfies
// api.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token
}

// Current returns a copy of the session.
func (s *Store) Current() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.session)
}

// Snapshot returns a copy of the session and its generation, read
// together.
func (s *Store) Snapshot() (model.Session, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.session), s.generation
}

// Generation increases on every session mutation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Authenticated reports whether a validated user is present.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Active()
}

// Subscribe registers fn for every Change and returns a function that
// removes it. fn runs on the goroutine that mutated the session.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once gosync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// CheckAuth restores the session from the durable token. Without a
// token the session is cleared and nil returned. With one, the server
// validates it: success populates the user, failure clears the session
// and durable token and returns the error. Concurrent calls share a
// single validation request.
func (s *Store) CheckAuth(ctx context.Context) error {
	_, err, shared := s.group.Do("check-auth", func() (interface{}, error) {
		return nil, s.checkAuth(ctx)
	})
	if shared {
		s.logger.Debug("check auth shared with in-flight call")
	}
	return err
}

func (s *Store) checkAuth(ctx context.Context) error {
	token, err := s.creds.Get(s.key)
	if errors.Is(err, credential.ErrNotFound) || (err == nil && token == "") {
		s.clearMemory(ReasonCleared)
		return nil
	}
	if err != nil {
		s.logger.Warn("reading stored token failed", zap.Error(err))
		s.clearMemory(ReasonCleared)
		return fmt.Errorf("reading stored token: %w", err)
	}

	gen := s.adoptToken(token)

	user, err := s.api.Me(ctx)
	if err != nil {
		if s.Generation() != gen {
			// The session moved on while validating (401 teardown, login).
			return err
		}
		s.logger.Info("stored token rejected", zap.Error(err))
		s.teardown(ReasonCheckAuth, false)
		return err
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug("dropping stale validation result")
		return nil
	}
	s.session = model.Session{Token: token, User: user}
	s.generation++
	change := Change{Session: copySession(s.session), Reason: ReasonCheckAuth, Generation: s.generation}
	s.mu.Unlock()

	s.mirror(token)
	s.logger.Info("session restored", zap.Int64("user_id", user.ID))
	s.notify(change)
	return nil
}

// adoptToken installs token in memory (without a user) so the validation
// request carries it, and returns the resulting generation.
func (s *Store) adoptToken(token string) uint64 {
	s.mu.Lock()
	if s.session.Token == token {
		gen := s.generation
		s.mu.Unlock()
		return gen
	}
	s.session = model.Session{Token: token}
	s.generation++
	gen := s.generation
	s.mu.Unlock()
	return gen
}

// Login validates creds locally, exchanges them for a token, persists it
// and stores the user. On failure the session is left untouched.
func (s *Store) Login(ctx context.Context, creds api.Credentials) (*model.User, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if err := s.validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, describeValidation(err))
	}

	res, err := s.api.Login(ctx, creds)
	if err != nil {
		s.logger.Info("login failed", zap.String("email", creds.Email), zap.Error(err))
		return nil, err
	}
	if res.Token == "" || res.User == nil {
		return nil, fmt.Errorf("login response without token or user")
	}

	if err := s.creds.Set(s.key, res.Token); err != nil {
		return nil, fmt.Errorf("persisting token: %w", err)
	}
	s.mirror(res.Token)

	s.mu.Lock()
	s.session = model.Session{Token: res.Token, User: res.User}
	s.generation++
	change := Change{Session: copySession(s.session), Reason: ReasonLogin, Generation: s.generation}
	s.mu.Unlock()

	s.logger.Info("signed in", zap.Int64("user_id", res.User.ID))
	s.notify(change)

	u := *change.Session.User
	return &u, nil
}

// Logout tells the server (best effort) and then always clears the
// session, the durable token and the cookie mirror before navigating to
// the login route.
func (s *Store) Logout(ctx context.Context) {
	if s.Token() != "" {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("server logout failed; clearing local session anyway", zap.Error(err))
		}
	}
	s.teardown(ReasonLogout, true)
}

// HandleUnauthorized ends the session after the server answered 401 to
// a request sent with token. It is installed as the API client's
// unauthorized handler. A 401 for a token that is no longer current
// belongs to an earlier session and is ignored.
func (s *Store) HandleUnauthorized(token string) {
	s.mu.Lock()
	if s.session.Token != token {
		s.mu.Unlock()
		s.logger.Debug("ignoring 401 for a replaced session")
		return
	}
	change, changed := s.clearLocked(ReasonUnauthorized)
	s.mu.Unlock()

	s.cleared(change, changed)
	s.dropStored(true)
}

// teardown clears memory, durable token and cookie, and optionally
// sends the user to the login route.
func (s *Store) teardown(reason Reason, navigate bool) {
	s.clearMemory(reason)
	s.dropStored(navigate)
}

// dropStored removes the durable token and cookie, and optionally sends
// the user to the login route.
func (s *Store) dropStored(navigate bool) {
	if err := s.creds.Delete(s.key); err != nil {
		s.logger.Warn("removing stored token failed", zap.Error(err))
	}
	s.mirror("")

	if navigate && s.nav != nil {
		s.nav.Navigate(s.loginRoute)
	}
}

// clearMemory empties the in-memory session, notifying subscribers only
// when something changed.
func (s *Store) clearMemory(reason Reason) {
	s.mu.Lock()
	change, changed := s.clearLocked(reason)
	s.mu.Unlock()

	s.cleared(change, changed)
}

// clearLocked empties the session. s.mu must be held.
func (s *Store) clearLocked(reason Reason) (Change, bool) {
	if s.session.Token == "" && s.session.User == nil {
		return Change{}, false
	}
	s.session = model.Session{}
	s.generation++
	return Change{Reason: reason, Generation: s.generation}, true
}

func (s *Store) cleared(change Change, changed bool) {
	if !changed {
		return
	}
	s.logger.Info("session cleared", zap.Stringer("reason", change.Reason))
	s.notify(change)
}

func (s *Store) mirror(token string) {
	if s.cookies != nil {
		s.cookies.MirrorToken(token)
	}
}

func (s *Store) notify(c Change) {
	s.subsMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func copySession(in model.Session) model.Session {
	out := model.Session{Token: in.Token}
	if in.User != nil {
		u := *in.User
		u.Roles = append([]model.Role(nil), in.User.Roles...)
		out.User = &u
	}
	return out
}

// describeValidation turns validator errors into "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
