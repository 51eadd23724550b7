package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client talks to the Estately API on behalf of one signed-in user. It owns
// the session: persisting it, refreshing it, and broadcasting auth events.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	store        SessionStore
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	session   *Session
	loaded    bool
	refreshMu sync.Mutex

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSessionStore sets where sessions are persisted.
func WithSessionStore(store SessionStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store:  NewMemoryStore(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		subs:   make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Realtime streams carry no overall timeout.
	c.streamClient = &http.Client{Transport: c.httpClient.Transport}
	return c
}

// BaseURL returns the API origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SignUpResult is the outcome of SignUp. Session is nil when the address must
// be confirmed before the first sign-in.
type SignUpResult struct {
	User              User     `json:"user"`
	Session           *Session `json:"session,omitempty"`
	RegistrationToken string   `json:"registration_token"`
}

// GetSession returns the current session, loading it from the store on first
// use and refreshing it when the access token has expired. A nil session
// means nobody is signed in. A session the API refuses to refresh is dropped
// and reported to subscribers as SignedOut.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if !session.Expired(c.now()) {
		return session, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have rotated the token while this one waited.
	session, err = c.currentSession()
	if err != nil || session == nil {
		return nil, err
	}
	if !session.Expired(c.now()) {
		return session, nil
	}

	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			c.logger.Info("stored session could not be refreshed", "error", err)
			if clearErr := c.clearSession(); clearErr != nil {
				return nil, clearErr
			}
			c.emit(AuthEvent{Type: SignedOut})
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// RefreshSession exchanges the refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh(ctx, session.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var session Session
	query := url.Values{"grant_type": {"refresh_token"}}
	if err := c.call(ctx, http.MethodPost, "/api/auth/token", query, map[string]string{"refresh_token": refreshToken}, "", &session); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if err := c.setSession(&session); err != nil {
		return nil, err
	}
	c.emit(AuthEvent{Type: TokenRefreshed, Session: &session})
	return &session, nil
}

// SignInWithPassword starts a session from an email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	query := url.Values{"grant_type": {"password"}}
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/api/auth/token", query, body, "", &session); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if err := c.setSession(&session); err != nil {
		return nil, err
	}
	c.emit(AuthEvent{Type: SignedIn, Session: &session})
	return &session, nil
}

// SignUp registers an account. When the API returns a session the client
// signs in immediately.
func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	var result SignUpResult
	body := map[string]string{"email": email, "password": password}
	if err := c.call(ctx, http.MethodPost, "/api/auth/signup", nil, body, "", &result); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	if result.Session != nil {
		if err := c.setSession(result.Session); err != nil {
			return nil, err
		}
		c.emit(AuthEvent{Type: SignedIn, Session: result.Session})
	}
	return &result, nil
}

// VerifyEmail confirms an address with the emailed token and signs in.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*Session, error) {
	var session Session
	if err := c.call(ctx, http.MethodPost, "/api/auth/verify", nil, map[string]string{"token": token}, "", &session); err != nil {
		return nil, fmt.Errorf("verify email: %w", err)
	}
	if err := c.setSession(&session); err != nil {
		return nil, err
	}
	c.emit(AuthEvent{Type: SignedIn, Session: &session})
	return &session, nil
}

// SignOut ends the session. The local session is always discarded, even
// when the API cannot be reached, and a SignedOut event is always emitted.
func (c *Client) SignOut(ctx context.Context) error {
	session, err := c.currentSession()
	if err != nil {
		c.logger.Warn("read session during sign-out", "error", err)
	}
	if session != nil {
		if err := c.call(ctx, http.MethodPost, "/api/auth/logout", nil, nil, session.AccessToken, nil); err != nil && !errors.Is(err, ErrUnauthorized) {
			c.logger.Warn("server sign-out failed", "error", err)
		}
	}

	if err := c.clearSession(); err != nil {
		return err
	}
	c.emit(AuthEvent{Type: SignedOut})
	return nil
}

// ResetPasswordForEmail asks the API to mail a recovery link.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email string) error {
	if err := c.call(ctx, http.MethodPost, "/api/auth/recover", nil, map[string]string{"email": email}, "", nil); err != nil {
		return fmt.Errorf("request password reset: %w", err)
	}
	return nil
}

// ResetPassword sets a new password using the token from a recovery email.
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	if err := c.call(ctx, http.MethodPost, "/api/auth/reset", nil, map[string]string{"token": token, "password": password}, "", nil); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// UpdatePassword changes the signed-in user's password.
func (c *Client) UpdatePassword(ctx context.Context, password string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNoSession
	}
	if err := c.call(ctx, http.MethodPut, "/api/auth/user", nil, map[string]string{"password": password}, token, nil); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Get performs an authenticated GET against an API path.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodGet, path, query, nil, token, out)
}

// Post performs an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, path, nil, body, token, out)
}

// RPC calls a remote procedure with JSON arguments.
func (c *Client) RPC(ctx context.Context, fn string, args, out any) error {
	if args == nil {
		args = struct{}{}
	}
	if err := c.Post(ctx, "/api/rpc/"+url.PathEscape(fn), args, out); err != nil {
		return fmt.Errorf("rpc %s: %w", fn, err)
	}
	return nil
}

func (c *Client) currentSession() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		stored, err := c.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		c.session = stored
		c.loaded = true
	}
	if c.session == nil {
		return nil, nil
	}
	copied := *c.session
	return &copied, nil
}

// accessToken returns the bearer token for the current session, or "" when
// nobody is signed in.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.AccessToken, nil
}

func (c *Client) setSession(session *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Save(session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	copied := *session
	c.session = &copied
	c.loaded = true
	return nil
}

func (c *Client) clearSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	c.loaded = true
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// call sends a JSON request and decodes a JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any, token string, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, query, bodyReader, token)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, token string) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// send executes req and converts non-2xx responses into *APIError.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	c.logger.Debug("api request", "method", req.Method, "path", req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}

func decodeResponse(resp *http.Response, out any) error {
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
