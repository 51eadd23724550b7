package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"estately/internal/geocode"
)

// AddressLookup resolves free-form addresses to coordinates.
type AddressLookup interface {
	Lookup(ctx context.Context, query string) (geocode.Location, error)
}

// GeocodeHandler exposes address lookups for listing forms.
type GeocodeHandler struct {
	service AddressLookup
	logger  *slog.Logger
}

// NewGeocodeHandler constructs a handler for address lookups.
func NewGeocodeHandler(service AddressLookup, logger *slog.Logger) *GeocodeHandler {
	return &GeocodeHandler{service: service, logger: logger}
}

// Lookup resolves the q parameter.
func (h *GeocodeHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	location, err := h.service.Lookup(r.Context(), query)
	if err != nil {
		switch {
		case errors.Is(err, geocode.ErrInvalidQuery):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, geocode.ErrNotFound):
			writeError(w, http.StatusNotFound, "We couldn't find that address.")
		default:
			h.logger.Error("geocode lookup failed", "error", err)
			writeError(w, http.StatusBadGateway, "address lookup failed. Try again later.")
		}
		return
	}

	writeJSON(w, http.StatusOK, location)
}
