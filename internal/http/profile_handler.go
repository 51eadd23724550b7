package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"estately/internal/auth"
	"estately/internal/profiles"
)

type registrationAuthenticator interface {
	authenticator
	AuthenticateRegistration(ctx context.Context, token string) (*auth.User, error)
}

// ProfileHandler serves profile rows and the profile RPC functions.
type ProfileHandler struct {
	service *profiles.Service
	authn   registrationAuthenticator
	logger  *slog.Logger
}

// NewProfileHandler creates a handler.
func NewProfileHandler(service *profiles.Service, authn registrationAuthenticator, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{service: service, authn: authn, logger: logger}
}

// List returns every profile for administrators and the caller's own row otherwise.
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	values := r.URL.Query()
	opts := profiles.ListOptions{}
	if raw := filterParam(values, "id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id filter")
			return
		}
		opts.ID = &id
	}
	if raw := filterParam(values, "role"); raw != "" {
		role := profiles.Role(raw)
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "invalid role filter")
			return
		}
		opts.Role = &role
	}
	var err error
	if opts.Offset, opts.Limit, err = parsePagination(values); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, total, err := h.service.List(r.Context(), principal.User.ID, opts)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeList(w, rows, total)
}

type createProfilePayload struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Role    string    `json:"role"`
	IsAdmin bool      `json:"is_admin"`
}

// Create inserts the caller's profile row. Either an access token or the
// registration token returned by sign-up authorizes the request.
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.profileCreator(w, r)
	if !ok {
		return
	}

	var payload createProfilePayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	profile, err := h.service.Create(r.Context(), userID, profiles.CreateInput{
		ID:      payload.ID,
		Name:    payload.Name,
		Role:    profiles.Role(payload.Role),
		IsAdmin: payload.IsAdmin,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	if payload.IsAdmin && !profile.IsAdmin {
		h.logger.Warn("administrator flag not granted for role", "user_id", profile.ID, "role", profile.Role)
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *ProfileHandler) profileCreator(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	token := bearerToken(r, false)
	if token == "" {
		unauthorized(w)
		return uuid.Nil, false
	}
	if principal, err := h.authn.Authenticate(r.Context(), token); err == nil {
		return principal.User.ID, true
	} else if !errors.Is(err, auth.ErrInvalidToken) {
		handleServiceError(w, err, h.logger)
		return uuid.Nil, false
	}

	user, err := h.authn.AuthenticateRegistration(r.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			h.logger.Error("registration token validation error", "error", err)
		}
		unauthorized(w)
		return uuid.Nil, false
	}
	return user.ID, true
}

// Get returns one profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	profile, err := h.service.Get(r.Context(), principal.User.ID, id)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Update edits the name or role of a profile.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var raw map[string]json.RawMessage
	if err := decodeJSONBody(w, r, &raw); err != nil {
		writeJSONError(w, err)
		return
	}

	var input profiles.UpdateInput
	for key, value := range raw {
		var err error
		switch key {
		case "name":
			input.Name, err = decodeOptional[string](value)
		case "role":
			input.Role, err = decodeOptional[profiles.Role](value)
		case "is_admin", "is_premium", "premium_expires_at", "personal_id":
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s cannot be changed directly", key))
			return
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown field %q", key))
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", key))
			return
		}
	}

	profile, err := h.service.Update(r.Context(), principal.User.ID, id, input)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// GetProfileByID is the get_profile_by_id RPC. A missing row yields null.
func (h *ProfileHandler) GetProfileByID(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	var args struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := decodeJSONBody(w, r, &args); err != nil {
		writeJSONError(w, err)
		return
	}
	if args.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	profile, err := h.service.Get(r.Context(), principal.User.ID, args.UserID)
	if errors.Is(err, profiles.ErrNotFound) {
		writeJSON(w, http.StatusOK, json.RawMessage("null"))
		return
	}
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// SetUserRole is the set_user_role RPC. Administrators only.
func (h *ProfileHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	var args struct {
		UserID  uuid.UUID `json:"user_id"`
		Role    string    `json:"role"`
		IsAdmin *bool     `json:"is_admin"`
	}
	if err := decodeJSONBody(w, r, &args); err != nil {
		writeJSONError(w, err)
		return
	}
	if args.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	profile, err := h.service.SetRole(r.Context(), principal.User.ID, args.UserID, profiles.Role(args.Role), args.IsAdmin)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	h.logger.Info("role changed", "actor_id", principal.User.ID, "user_id", profile.ID, "role", profile.Role, "is_admin", profile.IsAdmin)
	writeJSON(w, http.StatusOK, profile)
}

// UpgradePremium is the upgrade_premium RPC for the caller's own profile.
func (h *ProfileHandler) UpgradePremium(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	var args struct {
		Plan string `json:"plan"`
	}
	if err := decodeJSONBody(w, r, &args); err != nil {
		writeJSONError(w, err)
		return
	}

	profile, err := h.service.UpgradePremium(r.Context(), principal.User.ID, profiles.Plan(args.Plan))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// CancelPremium is the cancel_premium RPC.
func (h *ProfileHandler) CancelPremium(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	profile, err := h.service.CancelPremium(r.Context(), principal.User.ID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
