package http

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"estately/internal/auth"
)

// oauthFlow is the per-attempt secret kept in a cookie between the consent
// redirect and the callback.
type oauthFlow struct {
	State      string `json:"s"`
	Verifier   string `json:"v"`
	RedirectTo string `json:"r,omitempty"`
}

func (f oauthFlow) encode() string {
	data, _ := json.Marshal(f)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeOAuthFlow(value string) (oauthFlow, error) {
	var flow oauthFlow
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return flow, err
	}
	if err := json.Unmarshal(data, &flow); err != nil {
		return flow, err
	}
	if flow.State == "" || flow.Verifier == "" {
		return flow, errors.New("incomplete oauth flow")
	}
	return flow, nil
}

// isValidRedirectPath reports whether path is a relative redirect that
// cannot escape the frontend origin, including after URL decoding.
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}
	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") || strings.Contains(decoded, `\`) {
		return false
	}

	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}
	return parsed.Scheme == "" && parsed.Host == ""
}

const (
	oauthFlowCookieName = "estately_oauth_flow"
	oauthFlowCookiePath = "/api/auth/google"
	oauthFlowCookieTTL  = 10 * time.Minute
	oauthCallbackPath   = "/auth/callback"
)

type googleAuthenticator interface {
	AuthURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*auth.GoogleClaims, error)
	IsEmailAllowed(email string) bool
}

type googleSignIn interface {
	SignInWithGoogle(ctx context.Context, claims *auth.GoogleClaims, userAgent, ipAddress string) (auth.Tokens, bool, error)
}

// OAuthHandler handles the Google sign-in flow.
type OAuthHandler struct {
	google       googleAuthenticator
	authService  googleSignIn
	logger       *slog.Logger
	secureCookie bool
	frontendURL  string
}

// NewOAuthHandler creates a new OAuthHandler.
func NewOAuthHandler(google googleAuthenticator, authService googleSignIn, frontendURL, env string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		google:       google,
		authService:  authService,
		logger:       logger,
		secureCookie: !strings.EqualFold(env, "development"),
		frontendURL:  strings.TrimSuffix(frontendURL, "/"),
	}
}

// InitiateGoogle redirects to Google's consent screen.
func (h *OAuthHandler) InitiateGoogle(w http.ResponseWriter, r *http.Request) {
	state, verifier, err := auth.NewOAuthFlow()
	if err != nil {
		h.logger.Error("failed to start oauth flow", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	flow := oauthFlow{State: state, Verifier: verifier}
	if redirectTo := r.URL.Query().Get("redirect_to"); isValidRedirectPath(redirectTo) {
		flow.RedirectTo = redirectTo
	}
	h.setFlowCookie(w, flow.encode(), int(oauthFlowCookieTTL.Seconds()))

	http.Redirect(w, r, h.google.AuthURL(state, verifier), http.StatusTemporaryRedirect)
}

// CallbackGoogle exchanges the authorization code, signs the user in and hands
// the session to the frontend in the URL fragment.
func (h *OAuthHandler) CallbackGoogle(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oauthFlowCookieName)
	if err != nil {
		h.logger.Warn("oauth callback: missing flow cookie")
		h.redirectWithError(w, r, "invalid_request", "Session expired. Please try again.")
		return
	}
	// The flow is single use whatever the outcome.
	h.setFlowCookie(w, "", -1)

	flow, err := decodeOAuthFlow(cookie.Value)
	if err != nil {
		h.logger.Warn("oauth callback: unreadable flow cookie", "error", err)
		h.redirectWithError(w, r, "invalid_request", "Session expired. Please try again.")
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("state")), []byte(flow.State)) != 1 {
		h.logger.Warn("oauth callback: state mismatch")
		h.redirectWithError(w, r, "invalid_request", "Invalid state. Please try again.")
		return
	}

	redirectTo := "/"
	if isValidRedirectPath(flow.RedirectTo) {
		redirectTo = flow.RedirectTo
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "error", errParam)
		h.redirectWithError(w, r, errParam, r.URL.Query().Get("error_description"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, "invalid_request", "Missing authorization code.")
		return
	}

	claims, err := h.google.Exchange(r.Context(), code, flow.Verifier)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed", "error", err)
		h.redirectWithError(w, r, "exchange_error", "Failed to complete authentication.")
		return
	}

	if reason, message := h.checkClaims(claims); reason != "" {
		h.logger.Warn("oauth callback: account rejected", "reason", reason)
		h.redirectWithError(w, r, reason, message)
		return
	}

	tokens, created, err := h.authService.SignInWithGoogle(r.Context(), claims, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		h.logger.Error("oauth callback: sign-in failed", "error", err)
		h.redirectWithError(w, r, "internal_error", "Failed to sign in.")
		return
	}

	h.logger.Info("oauth login successful", "user_id", tokens.User.ID, "new_user", created)

	fragment := url.Values{}
	fragment.Set("access_token", tokens.AccessToken)
	fragment.Set("refresh_token", tokens.RefreshToken)
	fragment.Set("token_type", tokens.TokenType)
	fragment.Set("expires_at", strconv.FormatInt(tokens.ExpiresAt.Unix(), 10))
	fragment.Set("new_user", strconv.FormatBool(created))
	fragment.Set("redirect_to", redirectTo)

	http.Redirect(w, r, h.frontendURL+oauthCallbackPath+"#"+fragment.Encode(), http.StatusTemporaryRedirect)
}

// checkClaims returns an error code and message when the Google account may
// not sign in to the marketplace.
func (h *OAuthHandler) checkClaims(claims *auth.GoogleClaims) (string, string) {
	switch {
	case !claims.EmailVerified:
		return "email_not_verified", "Please verify your Google email address."
	case !h.google.IsEmailAllowed(claims.Email):
		return "access_denied", "Your account is not authorized to access this application."
	}
	return "", ""
}

func (h *OAuthHandler) setFlowCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthFlowCookieName,
		Value:    value,
		Path:     oauthFlowCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// redirectWithError redirects to the login page with error details.
func (h *OAuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code, message string) {
	target := h.frontendURL + "/login?error=" + url.QueryEscape(code)
	if message != "" {
		target += "&message=" + url.QueryEscape(message)
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
