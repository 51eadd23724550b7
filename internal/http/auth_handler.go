package http

import (
	"log/slog"
	"net/http"
	"strings"

	"estately/internal/auth"
)

// AuthHandler serves the password account endpoints.
type AuthHandler struct {
	service *auth.Service
	logger  *slog.Logger
}

// NewAuthHandler creates a handler.
func NewAuthHandler(service *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup registers a password account.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	result, err := h.service.SignUp(r.Context(), payload.Email, payload.Password, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("user signed up", "user_id", result.User.ID, "confirmed", result.Session != nil)
	writeJSON(w, http.StatusOK, result)
}

type tokenPayload struct {
	GrantType    string `json:"grant_type"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

// Token exchanges a password or refresh token for a new session.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var payload tokenPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	grantType := strings.TrimSpace(r.URL.Query().Get("grant_type"))
	if grantType == "" {
		grantType = strings.TrimSpace(payload.GrantType)
	}

	var (
		tokens auth.Tokens
		err    error
	)
	switch grantType {
	case "password":
		tokens, err = h.service.SignIn(r.Context(), payload.Email, payload.Password, r.UserAgent(), clientIPFromRequest(r))
	case "refresh_token":
		tokens, err = h.service.Refresh(r.Context(), payload.RefreshToken, r.UserAgent(), clientIPFromRequest(r))
	default:
		writeErrorCode(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be password or refresh_token")
		return
	}
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Logout ends the caller's session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	if err := h.service.SignOut(r.Context(), principal.SessionID); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUser returns the authenticated account.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, principal.User.Public())
}

// UpdateUser changes the caller's password.
func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	if err := h.service.UpdatePassword(r.Context(), *principal, payload.Password); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, principal.User.Public())
}

// Recover mails a password recovery link. Unknown addresses get the same response.
func (h *AuthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), payload.Email); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

// Reset sets a new password from a recovery token.
func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), payload.Token, payload.Password); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Verify confirms an email address and starts a session.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	tokens, err := h.service.VerifyEmail(r.Context(), payload.Token, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}
