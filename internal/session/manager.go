// Package session keeps track of who is signed in on the client side and
// keeps their profile and notification inbox up to date.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"estately/internal/backend"
	"estately/internal/profiles"
)

// User is the signed-in account with its profile. Profile is nil when it
// could not be read.
type User struct {
	backend.User
	Profile *profiles.Profile
}

// State is a snapshot of the authentication state. IsAuthenticated is true
// exactly when User is non-nil.
type State struct {
	User            *User
	IsAuthenticated bool
	IsLoading       bool
}

// Result is the outcome of a user-initiated auth operation.
type Result struct {
	Success      bool
	ErrorMessage string
}

const (
	msgInvalidCredentials = "Invalid email or password. Please check your credentials and try again."
	msgEmailNotConfirmed  = "Please confirm your email address before signing in. Check your inbox for the confirmation link."
	msgRateLimited        = "Too many attempts. Please wait a moment and try again."
	msgLoginFailed        = "An error occurred during login. Please try again."
	msgResetFailed        = "We couldn't send the password reset email. Please try again."
	msgUpdateFailed       = "We couldn't update your password. Please try again."
	msgNotSignedIn        = "You need to be signed in to change your password."
)

var errProfileMissing = errors.New("profile not visible yet")

// Backend is the client surface the manager drives.
type Backend interface {
	profileSource
	GetSession(ctx context.Context) (*backend.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error)
	SignUp(ctx context.Context, email, password string) (*backend.SignUpResult, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, password string) error
	OnAuthStateChange() *backend.Subscription
}

// Manager owns the process-wide authentication state. It is the only writer
// of State; readers poll State, register observers with Subscribe, or block
// in Wait. State changes come from the backend's auth events, never directly
// from Login or Logout.
type Manager struct {
	client         Backend
	fetcher        *ProfileFetcher
	logger         *slog.Logger
	profileBackoff time.Duration
	profileRetries uint64

	mu           sync.Mutex
	state        State
	changed      chan struct{}
	observers    map[int]func(State)
	nextObserver int
	publishMu    sync.Mutex

	sub       *backend.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithProfileBackoff sets the first delay and retry count used while a new
// user's profile row is not yet visible.
func WithProfileBackoff(base time.Duration, retries uint64) Option {
	return func(m *Manager) {
		m.profileBackoff = base
		m.profileRetries = retries
	}
}

// NewManager subscribes to the client's auth events and starts processing
// them. Call Initialize once, and Close when done.
func NewManager(client Backend, opts ...Option) *Manager {
	m := &Manager{
		client:         client,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		profileBackoff: 100 * time.Millisecond,
		profileRetries: 5,
		state:          State{IsLoading: true},
		changed:        make(chan struct{}),
		observers:      make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.fetcher = NewProfileFetcher(client, m.logger)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.sub = client.OnAuthStateChange()

	m.wg.Add(1)
	go m.run(ctx)
	return m
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn to be called with every published state, in
// publish order. The returned function removes the observer.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Wait blocks until ready reports true for the current state or ctx ends.
func (m *Manager) Wait(ctx context.Context, ready func(State) bool) (State, error) {
	for {
		m.mu.Lock()
		state, changed := m.state, m.changed
		m.mu.Unlock()

		if ready(state) {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// Initialize loads any persisted session and publishes the bootstrap state.
// It never fails: an unreadable session counts as signed out and an
// unreadable profile leaves User.Profile nil.
func (m *Manager) Initialize(ctx context.Context) State {
	session, err := m.client.GetSession(ctx)
	if err != nil {
		m.logger.Warn("restore session failed", "error", err)
		session = nil
	}

	next := State{}
	if session != nil {
		next = State{
			User:            &User{User: session.User, Profile: m.fetcher.Fetch(ctx, session.User.ID)},
			IsAuthenticated: true,
		}
	}

	// An auth event may already have settled the state while the session loaded.
	m.publishIf(next, func(current State) bool { return current.IsLoading })
	return m.State()
}

// Login signs in with a password. The state changes when the resulting
// SignedIn event is processed.
func (m *Manager) Login(ctx context.Context, email, password string) Result {
	if _, err := m.client.SignInWithPassword(ctx, email, password); err != nil {
		m.logger.Info("login failed", "error", err)
		return Result{ErrorMessage: loginMessage(err)}
	}
	return Result{Success: true}
}

func loginMessage(err error) string {
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		return msgInvalidCredentials
	case errors.Is(err, backend.ErrEmailNotConfirmed):
		return msgEmailNotConfirmed
	case errors.Is(err, backend.ErrRateLimited):
		return msgRateLimited
	}
	return msgLoginFailed
}

// Register creates the account and its profile row. Sellers and landlords
// are registered as administrators of their own listings. Any failure
// yields false.
func (m *Manager) Register(ctx context.Context, name, email, password string, role profiles.Role) bool {
	result, err := m.client.SignUp(ctx, email, password)
	if err != nil {
		m.logger.Info("sign-up failed", "error", err)
		return false
	}

	row := map[string]any{
		"id":       result.User.ID,
		"name":     name,
		"role":     role,
		"is_admin": profiles.DefaultAdminForRole(role),
	}
	if err := m.client.From("profiles").WithToken(result.RegistrationToken).Insert(ctx, row, nil); err != nil {
		m.logger.Error("create profile failed", "user_id", result.User.ID, "error", err)
		return false
	}
	return true
}

// Logout ends the session. Calling it while signed out is harmless.
func (m *Manager) Logout(ctx context.Context) Result {
	if err := m.client.SignOut(ctx); err != nil {
		m.logger.Warn("logout failed", "error", err)
		return Result{ErrorMessage: "An error occurred during logout. Please try again."}
	}
	return Result{Success: true}
}

// ResetPassword mails a recovery link to email.
func (m *Manager) ResetPassword(ctx context.Context, email string) Result {
	if err := m.client.ResetPasswordForEmail(ctx, email); err != nil {
		m.logger.Info("password reset request failed", "error", err)
		if errors.Is(err, backend.ErrRateLimited) {
			return Result{ErrorMessage: msgRateLimited}
		}
		return Result{ErrorMessage: msgResetFailed}
	}
	return Result{Success: true}
}

// UpdatePassword changes the signed-in user's password.
func (m *Manager) UpdatePassword(ctx context.Context, password string) Result {
	if err := m.client.UpdatePassword(ctx, password); err != nil {
		m.logger.Info("password update failed", "error", err)
		var apiErr *backend.APIError
		switch {
		case errors.Is(err, backend.ErrNoSession), errors.Is(err, backend.ErrUnauthorized):
			return Result{ErrorMessage: msgNotSignedIn}
		case errors.Is(err, backend.ErrValidation) && errors.As(err, &apiErr):
			return Result{ErrorMessage: apiErr.Message}
		}
		return Result{ErrorMessage: msgUpdateFailed}
	}
	return Result{Success: true}
}

// Close stops event processing and releases the auth subscription.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.sub.Unsubscribe()
		m.wg.Wait()
	})
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.sub.Events():
			if !ok {
				return
			}
			m.handle(ctx, event)
		}
	}
}

func (m *Manager) handle(ctx context.Context, event backend.AuthEvent) {
	switch event.Type {
	case backend.SignedIn:
		user := event.Session.User
		profile := m.loadProfile(ctx, user.ID)
		if ctx.Err() != nil {
			return
		}
		m.logger.Debug("signed in", "user_id", user.ID, "profile", profile != nil)
		m.publish(State{User: &User{User: user, Profile: profile}, IsAuthenticated: true})
	case backend.SignedOut:
		m.logger.Debug("signed out")
		m.publish(State{})
	case backend.TokenRefreshed:
		m.logger.Debug("session refreshed", "user_id", event.Session.User.ID)
	}
}

// loadProfile reads the profile of a user who just signed in. A freshly
// registered user's row may not be visible yet, so a missing profile is
// retried with exponential backoff before giving up.
func (m *Manager) loadProfile(ctx context.Context, userID uuid.UUID) *profiles.Profile {
	var profile *profiles.Profile
	backoff := retry.WithMaxRetries(m.profileRetries, retry.WithCappedDuration(2*time.Second, retry.NewExponential(m.profileBackoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		profile = m.fetcher.Fetch(ctx, userID)
		if profile == nil {
			return retry.RetryableError(errProfileMissing)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("profile unavailable after sign-in", "user_id", userID, "error", err)
	}
	return profile
}

func (m *Manager) publish(next State) {
	m.publishIf(next, nil)
}

// publishIf replaces the state when cond accepts the current one, then
// notifies observers. Publishes are serialized so observers see them in order.
func (m *Manager) publishIf(next State, cond func(State) bool) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if cond != nil && !cond(m.state) {
		m.mu.Unlock()
		return
	}
	next.IsAuthenticated = next.User != nil
	next.IsLoading = false
	m.state = next
	close(m.changed)
	m.changed = make(chan struct{})
	observers := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
}
