package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mailerStub struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	to, subject, body string
}

func (m *mailerStub) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *mailerStub) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected an email to be sent")
	}
	body := m.sent[len(m.sent)-1].body
	start := strings.Index(body, "token=")
	if start < 0 {
		t.Fatalf("no token in email body %q", body)
	}
	raw := body[start+len("token="):]
	if end := strings.IndexByte(raw, '\n'); end >= 0 {
		raw = raw[:end]
	}
	token, err := url.QueryUnescape(raw)
	if err != nil {
		t.Fatalf("unescape token: %v", err)
	}
	return token
}

type limiterStub struct {
	allow bool
	keys  []string
}

func (l *limiterStub) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, nil
}

func newTestService(t *testing.T, requireConfirmation bool) (*Service, *InMemoryRepository, *mailerStub) {
	t.Helper()
	repo := NewInMemoryRepository()
	mailer := &mailerStub{}
	svc := NewService(repo, NewTokenIssuer("test-secret", time.Hour), Options{
		SessionTTL:               24 * time.Hour,
		RequireEmailConfirmation: requireConfirmation,
		FrontendURL:              "http://localhost:5173",
		Mailer:                   mailer,
		Logger:                   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return svc, repo, mailer
}

func TestServiceSignUpIssuesSessionWithoutConfirmation(t *testing.T) {
	svc, _, mailer := newTestService(t, false)

	result, err := svc.SignUp(context.Background(), " Alice@Example.com ", "secret1", "test-agent", "127.0.0.1")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if result.User.Email != "alice@example.com" || !result.User.EmailVerified {
		t.Fatalf("unexpected user %+v", result.User)
	}
	if result.Session == nil || result.Session.AccessToken == "" || result.Session.RefreshToken == "" {
		t.Fatalf("expected a session, got %+v", result.Session)
	}
	if result.RegistrationToken == "" {
		t.Fatal("expected a registration token")
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("expected no email, got %d", len(mailer.sent))
	}

	user, err := svc.AuthenticateRegistration(context.Background(), result.RegistrationToken)
	if err != nil {
		t.Fatalf("AuthenticateRegistration returned error: %v", err)
	}
	if user.ID != result.User.ID {
		t.Fatalf("expected registration token for %s, got %s", result.User.ID, user.ID)
	}

	if _, err := svc.Authenticate(context.Background(), result.RegistrationToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("registration token must not authenticate requests, got %v", err)
	}
}

func TestServiceSignUpRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "bob@example.com", "123", "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "not-an-email", "secret1", "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for email, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "bob@example.com", "secret1", "", ""); err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if _, err := svc.SignUp(ctx, "BOB@example.com", "secret1", "", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestServiceEmailConfirmationFlow(t *testing.T) {
	svc, _, mailer := newTestService(t, true)
	ctx := context.Background()

	result, err := svc.SignUp(ctx, "carol@example.com", "secret1", "", "")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if result.Session != nil {
		t.Fatal("expected no session while confirmation is pending")
	}

	if _, err := svc.SignIn(ctx, "carol@example.com", "secret1", "", ""); !errors.Is(err, ErrEmailNotConfirmed) {
		t.Fatalf("expected ErrEmailNotConfirmed, got %v", err)
	}

	token := mailer.lastToken(t)
	tokens, err := svc.VerifyEmail(ctx, token, "", "")
	if err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}
	if !tokens.User.EmailVerified {
		t.Fatal("expected verified user after confirmation")
	}

	if _, err := svc.VerifyEmail(ctx, token, "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token to be single-use, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "carol@example.com", "secret1", "", ""); err != nil {
		t.Fatalf("SignIn after confirmation returned error: %v", err)
	}
}

func TestServiceSignInInvalidCredentials(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "dave@example.com", "secret1", "", ""); err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}

	if _, err := svc.SignIn(ctx, "dave@example.com", "wrongpass", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "bad@example.com", "wrongpass", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestServiceSignInHonoursLimiter(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	limiter := &limiterStub{allow: false}
	svc.limiter = limiter

	if _, err := svc.SignIn(context.Background(), "Erin@example.com", "secret1", "", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "signin:erin@example.com" {
		t.Fatalf("unexpected limiter keys %v", limiter.keys)
	}
}

func TestServiceAuthenticateAndSignOut(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	result, err := svc.SignUp(ctx, "frank@example.com", "secret1", "", "")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}

	principal, err := svc.Authenticate(ctx, result.Session.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if principal.User.Email != "frank@example.com" {
		t.Fatalf("unexpected principal %+v", principal.User)
	}

	if err := svc.SignOut(ctx, principal.SessionID); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}
	if err := svc.SignOut(ctx, principal.SessionID); err != nil {
		t.Fatalf("second SignOut returned error: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.Session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked session to fail, got %v", err)
	}
}

func TestServiceRefreshRotatesToken(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	result, err := svc.SignUp(ctx, "grace@example.com", "secret1", "", "")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}

	rotated, err := svc.Refresh(ctx, result.Session.RefreshToken, "", "")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if rotated.RefreshToken == result.Session.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if _, err := svc.Refresh(ctx, result.Session.RefreshToken, "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old refresh token to be rejected, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("rotated access token rejected: %v", err)
	}
}

func TestServiceRefreshRejectsExpiredSession(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	result, err := svc.SignUp(ctx, "heidi@example.com", "secret1", "", "")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if _, err := svc.Refresh(ctx, result.Session.RefreshToken, "", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestServicePasswordRecovery(t *testing.T) {
	svc, _, mailer := newTestService(t, false)
	ctx := context.Background()

	result, err := svc.SignUp(ctx, "ivan@example.com", "secret1", "", "")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}

	if err := svc.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown email must be accepted silently, got %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatal("expected no email for unknown account")
	}

	if err := svc.RequestPasswordReset(ctx, "ivan@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	token := mailer.lastToken(t)

	if err := svc.ResetPassword(ctx, token, "newsecret"); err != nil {
		t.Fatalf("ResetPassword returned error: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.Session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected sessions to be revoked after reset, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "ivan@example.com", "secret1", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "ivan@example.com", "newsecret", "", ""); err != nil {
		t.Fatalf("expected new password to work, got %v", err)
	}
}

func TestServiceUpdatePasswordKeepsCurrentSession(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()

	first, err := svc.SignUp(ctx, "judy@example.com", "secret1", "", "")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	second, err := svc.SignIn(ctx, "judy@example.com", "secret1", "", "")
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}

	principal, err := svc.Authenticate(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if err := svc.UpdatePassword(ctx, *principal, "anothersecret"); err != nil {
		t.Fatalf("UpdatePassword returned error: %v", err)
	}

	if _, err := svc.Authenticate(ctx, second.AccessToken); err != nil {
		t.Fatalf("expected current session to survive, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, first.Session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected other sessions to be revoked, got %v", err)
	}
}

func TestServiceSignInWithGoogleLinksExistingAccount(t *testing.T) {
	svc, repo, _ := newTestService(t, true)
	ctx := context.Background()

	result, err := svc.SignUp(ctx, "kim@example.com", "secret1", "", "")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}

	tokens, created, err := svc.SignInWithGoogle(ctx, &GoogleClaims{Sub: "sub-1", Email: "kim@example.com", EmailVerified: true}, "", "")
	if err != nil {
		t.Fatalf("SignInWithGoogle returned error: %v", err)
	}
	if created {
		t.Fatal("expected existing account to be linked, not created")
	}
	if tokens.User.ID != result.User.ID || !tokens.User.EmailVerified {
		t.Fatalf("unexpected linked user %+v", tokens.User)
	}

	linked, _ := repo.FindUserByOAuth(ctx, "google", "sub-1")
	if linked == nil || linked.ID != result.User.ID {
		t.Fatal("expected oauth identity to be stored")
	}

	_, created, err = svc.SignInWithGoogle(ctx, &GoogleClaims{Sub: "sub-2", Email: "new@example.com", EmailVerified: true}, "", "")
	if err != nil || !created {
		t.Fatalf("expected new account, created=%v err=%v", created, err)
	}
}

func TestServiceCleanupExpiredSessions(t *testing.T) {
	svc, repo, _ := newTestService(t, false)
	ctx := context.Background()

	userID := uuid.New()
	_ = repo.CreateSession(ctx, Session{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(-time.Minute)}, "expired")
	_ = repo.CreateSession(ctx, Session{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, "live")

	removed, err := svc.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired session removed, got %d", removed)
	}
}

func TestHashTokenAndTruncate(t *testing.T) {
	if hashToken("a") == hashToken("b") || len(hashToken("a")) != 64 {
		t.Fatal("expected distinct 64 char hashes")
	}
	if truncateString("abcdef", 3) != "abc" || truncateString("ab", 3) != "ab" {
		t.Fatal("unexpected truncation")
	}
}
