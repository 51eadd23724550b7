package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"estately/internal/auth"
)

const testVerifier = "verifier-0123456789"

type fakeGoogleAuthenticator struct {
	authURLBase    string
	lastState      string
	lastVerifier   string
	exchangeClaims *auth.GoogleClaims
	exchangeErr    error
	allowEmail     bool
}

func (f *fakeGoogleAuthenticator) AuthURL(state, verifier string) string {
	f.lastState = state
	f.lastVerifier = verifier
	if f.authURLBase == "" {
		f.authURLBase = "https://accounts.google.com/auth?state="
	}
	return f.authURLBase + state
}

func (f *fakeGoogleAuthenticator) Exchange(ctx context.Context, code, verifier string) (*auth.GoogleClaims, error) {
	f.lastVerifier = verifier
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeClaims, nil
}

func (f *fakeGoogleAuthenticator) IsEmailAllowed(email string) bool {
	return f.allowEmail
}

type googleSignInStub struct {
	tokens  auth.Tokens
	created bool
	err     error
	claims  *auth.GoogleClaims
}

func (s *googleSignInStub) SignInWithGoogle(_ context.Context, claims *auth.GoogleClaims, _, _ string) (auth.Tokens, bool, error) {
	s.claims = claims
	return s.tokens, s.created, s.err
}

func newGoogleCallbackRequest(state, redirectTo, extra string) *http.Request {
	target := "/api/auth/google/callback?state=" + url.QueryEscape(state) + extra
	req := httptest.NewRequest(http.MethodGet, target, nil)
	flow := oauthFlow{State: state, Verifier: testVerifier, RedirectTo: redirectTo}
	req.AddCookie(&http.Cookie{Name: oauthFlowCookieName, Value: flow.encode()})
	return req
}

func flowCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == oauthFlowCookieName {
			return c
		}
	}
	return nil
}

func verifiedGoogle() *fakeGoogleAuthenticator {
	return &fakeGoogleAuthenticator{
		exchangeClaims: &auth.GoogleClaims{Email: "user@example.com", EmailVerified: true, Sub: "sub", Name: "User"},
		allowEmail:     true,
	}
}

func TestOAuthInitiateGoogleSetsFlowCookieAndRedirects(t *testing.T) {
	google := &fakeGoogleAuthenticator{allowEmail: true}
	handler := NewOAuthHandler(google, nil, "http://frontend.test", "development", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google?redirect_to=/properties", nil)
	rec := httptest.NewRecorder()

	handler.InitiateGoogle(rec, req)

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected status 307, got %d", rec.Code)
	}
	cookie := flowCookie(rec)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected flow cookie to be set")
	}
	if cookie.Secure || !cookie.HttpOnly || cookie.Path != oauthFlowCookiePath {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}

	flow, err := decodeOAuthFlow(cookie.Value)
	if err != nil {
		t.Fatalf("decode flow cookie: %v", err)
	}
	if flow.State != google.lastState || flow.Verifier != google.lastVerifier {
		t.Fatalf("flow cookie %+v does not match the consent request (%q, %q)", flow, google.lastState, google.lastVerifier)
	}
	if flow.RedirectTo != "/properties" {
		t.Fatalf("expected redirect_to /properties, got %q", flow.RedirectTo)
	}

	if location := rec.Header().Get("Location"); location != google.authURLBase+google.lastState {
		t.Fatalf("expected redirect to %q, got %q", google.authURLBase+google.lastState, location)
	}
}

func TestOAuthInitiateGoogleDropsUnsafeRedirect(t *testing.T) {
	google := &fakeGoogleAuthenticator{}
	handler := NewOAuthHandler(google, nil, "http://frontend.test", "production", discardLogger())

	rec := httptest.NewRecorder()
	handler.InitiateGoogle(rec, httptest.NewRequest(http.MethodGet, "/api/auth/google?redirect_to=//evil.test", nil))

	cookie := flowCookie(rec)
	if cookie == nil {
		t.Fatal("expected flow cookie to be set")
	}
	if !cookie.Secure {
		t.Fatal("flow cookie must be secure outside development")
	}
	flow, err := decodeOAuthFlow(cookie.Value)
	if err != nil {
		t.Fatalf("decode flow cookie: %v", err)
	}
	if flow.RedirectTo != "" {
		t.Fatalf("expected unsafe redirect to be dropped, got %q", flow.RedirectTo)
	}
}

func TestOAuthCallbackRejectsMissingFlowCookie(t *testing.T) {
	handler := NewOAuthHandler(&fakeGoogleAuthenticator{}, nil, "http://frontend.test", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?state=abc", nil))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected status 307, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "http://frontend.test/login?error=invalid_request") {
		t.Fatalf("expected invalid_request redirect, got %q", rec.Header().Get("Location"))
	}
}

func TestOAuthCallbackRejectsStateMismatch(t *testing.T) {
	handler := NewOAuthHandler(&fakeGoogleAuthenticator{}, nil, "http://frontend.test", "development", discardLogger())

	req := newGoogleCallbackRequest("expected", "", "&code=123")
	req.URL.RawQuery = "state=other&code=123"
	rec := httptest.NewRecorder()

	handler.CallbackGoogle(rec, req)

	if !strings.Contains(rec.Header().Get("Location"), "/login?error=invalid_request") {
		t.Fatalf("expected invalid_request redirect, got %q", rec.Header().Get("Location"))
	}
	if cookie := flowCookie(rec); cookie == nil || cookie.MaxAge >= 0 {
		t.Fatal("expected flow cookie to be cleared after a failed callback")
	}
}

func TestOAuthCallbackRejectsTamperedFlowCookie(t *testing.T) {
	handler := NewOAuthHandler(&fakeGoogleAuthenticator{}, nil, "http://frontend.test", "development", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?state=abc&code=123", nil)
	req.AddCookie(&http.Cookie{Name: oauthFlowCookieName, Value: oauthFlow{State: "abc"}.encode()})
	rec := httptest.NewRecorder()

	handler.CallbackGoogle(rec, req)

	if !strings.Contains(rec.Header().Get("Location"), "/login?error=invalid_request") {
		t.Fatalf("expected invalid_request redirect for a flow without verifier, got %q", rec.Header().Get("Location"))
	}
}

func TestOAuthCallbackPropagatesProviderError(t *testing.T) {
	handler := NewOAuthHandler(&fakeGoogleAuthenticator{}, nil, "http://frontend.test", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, newGoogleCallbackRequest("abc", "", "&error=access_denied&error_description=Denied"))

	location := rec.Header().Get("Location")
	if !strings.Contains(location, "/login?error=access_denied") || !strings.Contains(location, "message=Denied") {
		t.Fatalf("expected provider error redirect, got %q", location)
	}
}

func TestOAuthCallbackRequiresCode(t *testing.T) {
	handler := NewOAuthHandler(&fakeGoogleAuthenticator{}, nil, "http://frontend.test", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, newGoogleCallbackRequest("abc", "", ""))

	if !strings.Contains(rec.Header().Get("Location"), "/login?error=invalid_request") {
		t.Fatalf("expected invalid_request redirect, got %q", rec.Header().Get("Location"))
	}
}

func TestOAuthCallbackHandlesExchangeError(t *testing.T) {
	google := &fakeGoogleAuthenticator{exchangeErr: errors.New("boom")}
	handler := NewOAuthHandler(google, nil, "http://frontend.test", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, newGoogleCallbackRequest("abc", "", "&code=123"))

	if !strings.Contains(rec.Header().Get("Location"), "/login?error=exchange_error") {
		t.Fatalf("expected exchange_error redirect, got %q", rec.Header().Get("Location"))
	}
}

func TestOAuthCallbackRequiresVerifiedEmail(t *testing.T) {
	google := &fakeGoogleAuthenticator{
		exchangeClaims: &auth.GoogleClaims{Email: "user@example.com", EmailVerified: false},
		allowEmail:     true,
	}
	handler := NewOAuthHandler(google, nil, "http://frontend.test", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, newGoogleCallbackRequest("abc", "", "&code=123"))

	if !strings.Contains(rec.Header().Get("Location"), "/login?error=email_not_verified") {
		t.Fatalf("expected email_not_verified redirect, got %q", rec.Header().Get("Location"))
	}
}

func TestOAuthCallbackRejectsUnauthorizedEmail(t *testing.T) {
	google := verifiedGoogle()
	google.allowEmail = false
	handler := NewOAuthHandler(google, nil, "http://frontend.test", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, newGoogleCallbackRequest("abc", "", "&code=123"))

	if !strings.Contains(rec.Header().Get("Location"), "/login?error=access_denied") {
		t.Fatalf("expected access_denied redirect, got %q", rec.Header().Get("Location"))
	}
}

func TestOAuthCallbackHandlesSignInError(t *testing.T) {
	signIn := &googleSignInStub{err: errors.New("db down")}
	handler := NewOAuthHandler(verifiedGoogle(), signIn, "http://frontend.test", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, newGoogleCallbackRequest("abc", "", "&code=123"))

	if !strings.Contains(rec.Header().Get("Location"), "/login?error=internal_error") {
		t.Fatalf("expected internal_error redirect, got %q", rec.Header().Get("Location"))
	}
}

func TestOAuthCallbackSuccessHandsSessionToFrontend(t *testing.T) {
	expiresAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	signIn := &googleSignInStub{
		tokens: auth.Tokens{
			AccessToken:  "access-abc",
			RefreshToken: "refresh-xyz",
			TokenType:    "bearer",
			ExpiresAt:    expiresAt,
			User:         auth.PublicUser{ID: uuid.New(), Email: "user@example.com"},
		},
		created: true,
	}
	google := verifiedGoogle()
	handler := NewOAuthHandler(google, signIn, "http://frontend.test/", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, newGoogleCallbackRequest("state123", "/properties", "&code=123"))

	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected status 307, got %d", rec.Code)
	}
	location := rec.Header().Get("Location")
	prefix := "http://frontend.test/auth/callback#"
	if !strings.HasPrefix(location, prefix) {
		t.Fatalf("expected redirect to callback page, got %q", location)
	}
	fragment, err := url.ParseQuery(strings.TrimPrefix(location, prefix))
	if err != nil {
		t.Fatalf("parse fragment: %v", err)
	}
	if fragment.Get("access_token") != "access-abc" || fragment.Get("refresh_token") != "refresh-xyz" {
		t.Fatalf("unexpected tokens in fragment: %v", fragment)
	}
	if fragment.Get("redirect_to") != "/properties" || fragment.Get("new_user") != "true" {
		t.Fatalf("unexpected fragment: %v", fragment)
	}
	if fragment.Get("expires_at") != "1767323045" {
		t.Fatalf("expected unix expiry, got %q", fragment.Get("expires_at"))
	}
	if signIn.claims != google.exchangeClaims {
		t.Fatal("expected exchanged claims to be passed to sign-in")
	}
	if google.lastVerifier != testVerifier {
		t.Fatalf("expected the flow verifier to be sent with the code, got %q", google.lastVerifier)
	}
	if cookie := flowCookie(rec); cookie == nil || cookie.MaxAge >= 0 {
		t.Fatal("expected flow cookie to be cleared")
	}
}

func TestOAuthCallbackSanitizesRedirectTo(t *testing.T) {
	signIn := &googleSignInStub{tokens: auth.Tokens{AccessToken: "a", RefreshToken: "r", TokenType: "bearer", ExpiresAt: time.Now()}}
	handler := NewOAuthHandler(verifiedGoogle(), signIn, "http://frontend.test", "development", discardLogger())

	rec := httptest.NewRecorder()
	handler.CallbackGoogle(rec, newGoogleCallbackRequest("state123", "https://evil.test", "&code=123"))

	location := rec.Header().Get("Location")
	fragment, err := url.ParseQuery(strings.TrimPrefix(location, "http://frontend.test/auth/callback#"))
	if err != nil {
		t.Fatalf("parse fragment: %v", err)
	}
	if fragment.Get("redirect_to") != "/" {
		t.Fatalf("expected redirect to root, got %q", fragment.Get("redirect_to"))
	}
}

func TestIsValidRedirectPath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"root", "/", true},
		{"simple path", "/properties", true},
		{"nested path", "/properties/123", true},
		{"path with query", "/properties?page=1", true},
		{"path with fragment", "/properties#gallery", true},

		{"empty string", "", false},

		{"http URL", "http://evil.com", false},
		{"https URL", "https://evil.com", false},
		{"protocol-relative", "//evil.com", false},
		{"protocol-relative with path", "//evil.com/path", false},

		{"encoded double slash", "/%2f%2fevil.com", false},
		{"encoded slash", "/%2fevil.com", false},
		// One decode leaves a literal %2f in the path.
		{"double encoded is safe", "/%252f%252fevil.com", true},

		{"no leading slash", "properties", false},
		{"relative path", "properties/123", false},

		{"javascript protocol", "javascript:alert(1)", false},
		{"data protocol", "data:text/html,<script>", false},

		{"backslash", "\\\\evil.com", false},
		{"mixed slashes", "/\\evil.com", false},
		{"encoded backslash", "/%5Cevil.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidRedirectPath(tt.path); got != tt.valid {
				t.Errorf("isValidRedirectPath(%q) = %v, want %v", tt.path, got, tt.valid)
			}
		})
	}
}
