package session_test

import (
	"context"
	"errors"
	"net/http"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/credential"
	"github.com/nhle/taskdesk/internal/logger"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
	"github.com/nhle/taskdesk/tests/testutil"
)

type recordingNavigator struct {
	mu     gosync.Mutex
	routes []string
}

func (n *recordingNavigator) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.routes) == 0 {
		return ""
	}
	return n.routes[len(n.routes)-1]
}

type harness struct {
	fake   *testutil.FakeAPI
	client *api.Client
	creds  *credential.KeyringStore
	nav    *recordingNavigator
	store  *session.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fake := testutil.NewFakeAPI(t)
	client, err := api.New(api.Options{
		BaseURL:   fake.URL(),
		APIPrefix: "/api/v1",
		Logger:    logger.NewTest(t),
	})
	require.NoError(t, err)

	h := &harness{
		fake:   fake,
		client: client,
		creds:  credential.NewMemoryStore(),
		nav:    &recordingNavigator{},
	}
	h.store = session.New(session.Options{
		Credentials: h.creds,
		API:         client,
		Navigator:   h.nav,
		Cookies:     client,
		Logger:      logger.NewTest(t),
	})
	client.Bind(h.store, h.store.HandleUnauthorized)
	return h
}

func assertInvariant(t *testing.T, s model.Session) {
	t.Helper()
	if s.Token == "" {
		assert.Nil(t, s.User, "a session without token must not carry a user")
	}
}

func TestLogin_StoresTokenAndUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)

	cur := h.store.Current()
	require.NotNil(t, cur.User)
	assert.Equal(t, int64(42), cur.User.ID)
	assert.Equal(t, "abc123", cur.Token)
	assert.True(t, h.store.Authenticated())

	stored, err := h.creds.Get(session.DefaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "abc123", stored)
	assert.Equal(t, "abc123", h.client.AuthCookie())

	_, _, err = h.client.ListNotifications(ctx)
	require.NoError(t, err)
	req, ok := h.fake.Last(http.MethodGet, "/notifications")
	require.True(t, ok)
	assert.Equal(t, "Bearer abc123", req.Authorization)
}

func TestLogin_FailureLeavesSessionUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, api.IsValidation(err))
	assert.Equal(t, model.Session{}, h.store.Current())

	_, err = h.creds.Get(session.DefaultStorageKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestLogin_LocalValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.store.Login(context.Background(), api.Credentials{Email: "not-an-email"})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "email: email")
	assert.Contains(t, err.Error(), "password: required")
	assert.Zero(t, h.fake.Count(http.MethodPost, "/auth/login"))
}

func TestLogout_ClearsEvenWhenServerFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)

	h.fake.Fail(http.MethodPost, "/auth/logout", http.StatusInternalServerError)
	h.store.Logout(ctx)

	assert.Equal(t, model.Session{}, h.store.Current())
	_, err = h.creds.Get(session.DefaultStorageKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)
	assert.Empty(t, h.client.AuthCookie())
	assert.Equal(t, "/login", h.nav.Location())
}

func TestLogout_ClearsWhenServerUnreachable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)

	h.fake.Server.Close()
	h.store.Logout(ctx)

	assert.Equal(t, model.Session{}, h.store.Current())
	assertInvariant(t, h.store.Current())
}

func TestCheckAuth_NoStoredToken(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.store.CheckAuth(context.Background()))
	assert.False(t, h.store.Authenticated())
	assert.Zero(t, h.fake.Count(http.MethodGet, "/auth/me"))
}

func TestCheckAuth_TokenRemovedElsewhereClearsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)

	var reasons []session.Reason
	unsub := h.store.Subscribe(func(c session.Change) {
		reasons = append(reasons, c.Reason)
	})
	defer unsub()

	require.NoError(t, h.creds.Delete(session.DefaultStorageKey))
	require.NoError(t, h.store.CheckAuth(ctx))

	assert.False(t, h.store.Authenticated())
	assert.Equal(t, []session.Reason{session.ReasonCleared}, reasons)
	assert.Zero(t, h.fake.Count(http.MethodGet, "/auth/me"))
}

func TestCheckAuth_RestoresSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Set(session.DefaultStorageKey, "abc123"))

	require.NoError(t, h.store.CheckAuth(context.Background()))

	cur := h.store.Current()
	require.NotNil(t, cur.User)
	assert.Equal(t, int64(42), cur.User.ID)
	assert.Equal(t, "abc123", cur.Token)

	req, ok := h.fake.Last(http.MethodGet, "/auth/me")
	require.True(t, ok)
	assert.Equal(t, "Bearer abc123", req.Authorization)
}

func TestCheckAuth_RejectedTokenClearsAndRedirects(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Set(session.DefaultStorageKey, "expired"))

	err := h.store.CheckAuth(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))

	assert.Equal(t, model.Session{}, h.store.Current())
	_, err = h.creds.Get(session.DefaultStorageKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)
	assert.Equal(t, "/login", h.nav.Location())
}

func TestCheckAuth_ServerErrorClears(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Set(session.DefaultStorageKey, "abc123"))
	h.fake.Fail(http.MethodGet, "/auth/me", http.StatusInternalServerError)

	err := h.store.CheckAuth(context.Background())
	require.Error(t, err)
	assert.Equal(t, api.KindServer, api.KindOf(err))

	cur := h.store.Current()
	assert.Empty(t, cur.Token)
	assertInvariant(t, cur)
}

func TestCheckAuth_ConcurrentCallsShareOneRequest(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Set(session.DefaultStorageKey, "abc123"))
	release := h.fake.Hold(http.MethodGet, "/auth/me")

	var wg gosync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.store.CheckAuth(context.Background())
		}(i)
		if i == 0 {
			require.Eventually(t, func() bool {
				return h.fake.Count(http.MethodGet, "/auth/me") == 1
			}, time.Second, 5*time.Millisecond)
		}
	}

	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, h.fake.Count(http.MethodGet, "/auth/me"))
	assert.True(t, h.store.Authenticated())
}

func TestCheckAuth_Idempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.creds.Set(session.DefaultStorageKey, "abc123"))
	ctx := context.Background()

	require.NoError(t, h.store.CheckAuth(ctx))
	first := h.store.Current()
	require.NoError(t, h.store.CheckAuth(ctx))

	assert.Equal(t, first, h.store.Current())
}

func TestUnauthorizedResponse_TearsDownSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)

	// Server revokes the token.
	h.fake.SetToken("rotated")

	_, err = h.client.UnreadCount(ctx)
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))

	_, err = h.creds.Get(session.DefaultStorageKey)
	assert.ErrorIs(t, err, credential.ErrNotFound)
	assert.Equal(t, "/login", h.nav.Location())
	assert.Equal(t, model.Session{}, h.store.Current())
}

func TestUnauthorizedResponse_ForReplacedSessionIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)

	release := h.fake.Hold(http.MethodGet, "/notifications")
	done := make(chan error, 1)
	go func() {
		_, _, err := h.client.ListNotifications(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.fake.Count(http.MethodGet, "/notifications") == 1
	}, time.Second, 5*time.Millisecond)

	h.store.Logout(ctx)
	h.fake.SetToken("fresh")
	_, err = h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)
	require.Equal(t, "fresh", h.store.Token())

	// The held request still carries the old token and now gets a 401.
	release()
	err = <-done
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))

	assert.Equal(t, "fresh", h.store.Token())
	assert.True(t, h.store.Authenticated())
	stored, err := h.creds.Get(session.DefaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored)
	assert.Equal(t, "fresh", h.client.AuthCookie())
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var mu gosync.Mutex
	var reasons []session.Reason
	unsubscribe := h.store.Subscribe(func(c session.Change) {
		assertInvariant(t, c.Session)
		mu.Lock()
		reasons = append(reasons, c.Reason)
		mu.Unlock()
	})

	_, err := h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)
	h.store.Logout(ctx)

	unsubscribe()
	_, err = h.store.Login(ctx, api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []session.Reason{session.ReasonLogin, session.ReasonLogout}, reasons)
}

// slowAPI lets a test interleave a login with an in-flight validation.
type slowAPI struct {
	meStarted chan struct{}
	meRelease chan struct{}
	meCalls   atomic.Int32
	user      *model.User
}

func (a *slowAPI) Login(context.Context, api.Credentials) (*api.LoginResult, error) {
	return &api.LoginResult{Token: "fresh", User: &model.User{ID: 7, Name: "Other"}}, nil
}

func (a *slowAPI) Logout(context.Context) error { return errors.New("offline") }

func (a *slowAPI) Me(context.Context) (*model.User, error) {
	a.meCalls.Add(1)
	close(a.meStarted)
	<-a.meRelease
	return a.user, nil
}

func TestCheckAuth_DropsStaleResult(t *testing.T) {
	fake := &slowAPI{
		meStarted: make(chan struct{}),
		meRelease: make(chan struct{}),
		user:      &model.User{ID: 42},
	}
	creds := credential.NewMemoryStore()
	require.NoError(t, creds.Set(session.DefaultStorageKey, "old"))
	store := session.New(session.Options{Credentials: creds, API: fake})

	done := make(chan error, 1)
	go func() { done <- store.CheckAuth(context.Background()) }()
	<-fake.meStarted

	_, err := store.Login(context.Background(), api.Credentials{Email: "o@x.com", Password: "p"})
	require.NoError(t, err)

	close(fake.meRelease)
	require.NoError(t, <-done)

	cur := store.Current()
	require.NotNil(t, cur.User)
	assert.Equal(t, int64(7), cur.User.ID)
	assert.Equal(t, "fresh", cur.Token)
}

func TestCurrent_ReturnsCopy(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Login(context.Background(), api.Credentials{Email: "u@x.com", Password: "p"})
	require.NoError(t, err)

	cur := h.store.Current()
	cur.User.Roles[0].Name = "mutated"

	assert.Equal(t, []string{"admin"}, h.store.Current().User.RoleNames())
}
