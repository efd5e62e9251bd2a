package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/logger"
	"github.com/nhle/taskdesk/internal/metrics"
)

// AuthCookieName is the cookie the bearer token is mirrored into so the
// web application can gate server-rendered routes.
const AuthCookieName = "auth_token"

// TokenSource supplies the current bearer token ("" when signed out).
type TokenSource interface {
	Token() string
}

// Options configures a Client.
type Options struct {
	// BaseURL is the scheme and host of the web application.
	BaseURL string

	// APIPrefix is prepended to every endpoint path (e.g. /api/v1).
	APIPrefix string

	// Timeout bounds a single call. Defaults to 30s.
	Timeout time.Duration

	// Tokens and OnUnauthorized may also be supplied later via Bind.
	Tokens         TokenSource
	OnUnauthorized func(token string)

	Logger  *zap.Logger
	Metrics *metrics.Collector

	// HTTPClient overrides the transport. It is copied; the copy gets the
	// client's own cookie jar.
	HTTPClient *http.Client
}

// Client is a thin HTTP client for the task management REST API.
// It injects the bearer token, exchanges JSON, and turns a 401 into a
// session teardown before returning the error to the caller.
type Client struct {
	baseURL    *url.URL
	prefix     string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *metrics.Collector

	mu             gosync.RWMutex
	tokens         TokenSource
	onUnauthorized func(token string)
}

// New creates a new API client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must include scheme and host", opts.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := &http.Client{Timeout: timeout}
	if opts.HTTPClient != nil {
		copied := *opts.HTTPClient
		hc = &copied
	}
	hc.Jar = jar

	return &Client{
		baseURL:        base,
		prefix:         "/" + strings.Trim(opts.APIPrefix, "/"),
		httpClient:     hc,
		logger:         logger.OrNop(opts.Logger).Named("api"),
		metrics:        opts.Metrics,
		tokens:         opts.Tokens,
		onUnauthorized: opts.OnUnauthorized,
	}, nil
}

// Bind attaches the token source and the 401 handler. The session store
// is built after the client, so the two are wired together here.
func (c *Client) Bind(tokens TokenSource, onUnauthorized func(token string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
	c.onUnauthorized = onUnauthorized
}

// MirrorToken writes the token into the auth cookie for the base URL, or
// expires the cookie when token is empty.
func (c *Client) MirrorToken(token string) {
	cookie := &http.Cookie{
		Name:     AuthCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.baseURL.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		cookie.MaxAge = -1
	}
	c.httpClient.Jar.SetCookies(c.baseURL, []*http.Cookie{cookie})
}

// AuthCookie returns the mirrored token cookie value, or "".
func (c *Client) AuthCookie() string {
	for _, ck := range c.httpClient.Jar.Cookies(c.baseURL) {
		if ck.Name == AuthCookieName {
			return ck.Value
		}
	}
	return ""
}

// Get performs an HTTP GET request and decodes the response data.
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and decodes the
// response data.
func (c *Client) Post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// Delete performs an HTTP DELETE request and decodes the response data.
func (c *Client) Delete(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodDelete, path, nil, result)
}

// do sends the request and decodes the data member of the envelope into
// result (nil to discard).
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	respBody, status, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}

	// No content to parse (e.g. 204).
	if result == nil || status == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := decodeData(respBody, result); err != nil {
		return &Error{
			Kind:    KindDecode,
			Status:  status,
			Method:  method,
			Path:    path,
			Message: "unreadable response body",
			Err:     err,
		}
	}

	return nil
}

// send is the core HTTP method that builds the request, attaches auth,
// records metrics and maps non-2xx responses to *Error. It returns the
// raw body of a successful response.
func (c *Client) send(
	ctx context.Context,
	method string,
	path string,
	body interface{},
) ([]byte, int, error) {
	endpoint := c.baseURL.String() + c.prefix + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	token := c.token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	label := endpointLabel(path)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(method, label, 0, time.Since(start))
		c.logger.Debug("request failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, 0, &Error{Kind: KindNetwork, Method: method, Path: path, Err: err}
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.metrics.ObserveRequest(method, label, resp.StatusCode, time.Since(start))
	if readErr != nil {
		return nil, resp.StatusCode, &Error{
			Kind: KindNetwork, Status: resp.StatusCode, Method: method, Path: path,
			Message: "reading response body", Err: readErr,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, resp.StatusCode, nil
	}

	apiErr := errorFromResponse(resp.StatusCode, respBody)
	apiErr.Method = method
	apiErr.Path = path

	if apiErr.Kind == KindUnauthorized {
		c.metrics.Unauthorized()
		c.logger.Warn("session rejected by server",
			zap.String("method", method), zap.String("path", path))
		c.unauthorized(token)
	}

	return nil, resp.StatusCode, apiErr
}

func (c *Client) token() string {
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return ""
	}
	return ts.Token()
}

// unauthorized reports a 401 along with the token the request carried.
func (c *Client) unauthorized(token string) {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn(token)
	}
}

// errorFromResponse builds an *Error from a non-2xx response, reading the
// {success:false, message, errors} envelope when present.
func errorFromResponse(status int, body []byte) *Error {
	var env envelope
	var fields map[string][]string
	message := ""
	if json.Unmarshal(body, &env) == nil {
		message = env.Message
		fields = env.fieldErrors()
	}
	if message == "" {
		message = http.StatusText(status)
	}

	return &Error{
		Kind:    kindForStatus(status, len(fields) > 0),
		Status:  status,
		Message: message,
		Fields:  fields,
	}
}

var numericSegment = regexp.MustCompile(`/\d+(/|$)`)

// endpointLabel collapses numeric path segments so metric labels stay
// bounded: /notifications/17/read -> /notifications/:id/read.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return numericSegment.ReplaceAllString(path, "/:id$1")
}
