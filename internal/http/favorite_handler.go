package http

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"estately/internal/favorites"
)

// FavoriteHandler serves the caller's saved listings.
type FavoriteHandler struct {
	service *favorites.Service
	logger  *slog.Logger
}

// NewFavoriteHandler creates a handler.
func NewFavoriteHandler(service *favorites.Service, logger *slog.Logger) *FavoriteHandler {
	return &FavoriteHandler{service: service, logger: logger}
}

// List returns the caller's favourites with their listings expanded.
// A property_id filter narrows the result to a single membership check.
func (h *FavoriteHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	values := r.URL.Query()
	if raw := filterParam(values, "property_id"); raw != "" {
		propertyID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid property_id filter")
			return
		}
		saved, err := h.service.IsFavorite(r.Context(), principal.User.ID, propertyID)
		if err != nil {
			handleServiceError(w, err, h.logger)
			return
		}
		rows := []favorites.Favorite{}
		if saved {
			rows = append(rows, favorites.Favorite{UserID: principal.User.ID, PropertyID: propertyID})
		}
		writeList(w, rows, len(rows))
		return
	}

	offset, limit, err := parsePagination(values)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, total, err := h.service.List(r.Context(), principal.User.ID, offset, limit)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeList(w, rows, total)
}

// Add saves a listing. Saving twice returns the existing favourite.
func (h *FavoriteHandler) Add(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	var payload struct {
		PropertyID uuid.UUID `json:"property_id"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}
	if payload.PropertyID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "property_id is required")
		return
	}

	favorite, err := h.service.Add(r.Context(), principal.User.ID, payload.PropertyID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, favorite)
}

// Remove unsaves a listing.
func (h *FavoriteHandler) Remove(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}
	propertyID, ok := parseUUIDParam(w, r, "propertyID")
	if !ok {
		return
	}

	if err := h.service.Remove(r.Context(), principal.User.ID, propertyID); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
