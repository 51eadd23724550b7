package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"estately/internal/auth"
	"estately/internal/exporter"
	"estately/internal/favorites"
	"estately/internal/geocode"
	"estately/internal/importer"
	"estately/internal/inquiries"
	"estately/internal/notifications"
	"estately/internal/profiles"
	"estately/internal/properties"
	"estately/internal/storage"
)

type profileLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (profiles.Profile, error)
}

// PropertyHandler exposes listing CRUD, image upload and CSV transfer endpoints.
type PropertyHandler struct {
	service  *properties.Service
	profiles profileLookup
	importer *importer.CSVImporter
	exporter *exporter.CSVExporter
	logger   *slog.Logger
}

// NewPropertyHandler creates a handler.
func NewPropertyHandler(service *properties.Service, profiles profileLookup, importer *importer.CSVImporter, exporter *exporter.CSVExporter, logger *slog.Logger) *PropertyHandler {
	return &PropertyHandler{service: service, profiles: profiles, importer: importer, exporter: exporter, logger: logger}
}

// List returns a filtered page of listings. Authentication is optional.
func (h *PropertyHandler) List(w http.ResponseWriter, r *http.Request) {
	var viewer *profiles.Profile
	if principal := PrincipalFromContext(r.Context()); principal != nil {
		if p, err := h.profiles.Lookup(r.Context(), principal.User.ID); err == nil {
			viewer = &p
		}
	}

	opts, err := parsePropertyListOptions(r.URL.Query(), viewer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, total, err := h.service.List(r.Context(), viewer, opts)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeList(w, rows, total)
}

func parsePropertyListOptions(values url.Values, viewer *profiles.Profile) (properties.ListOptions, error) {
	const maxSearchQueryLength = 200
	opts := properties.ListOptions{}

	if raw := filterParam(values, "owner_id"); raw != "" {
		if raw == "me" {
			if viewer == nil {
				return opts, fmt.Errorf("owner_id=me requires authentication")
			}
			opts.OwnerID = &viewer.ID
		} else {
			id, err := uuid.Parse(raw)
			if err != nil {
				return opts, fmt.Errorf("invalid owner_id filter")
			}
			opts.OwnerID = &id
		}
	}
	if raw := filterParam(values, "listing_type"); raw != "" {
		value := properties.ListingType(raw)
		if !value.Valid() {
			return opts, fmt.Errorf("invalid listing_type filter")
		}
		opts.ListingType = &value
	}
	if raw := filterParam(values, "property_type"); raw != "" {
		value := properties.PropertyType(raw)
		if !value.Valid() {
			return opts, fmt.Errorf("invalid property_type filter")
		}
		opts.PropertyType = &value
	}
	if raw := filterParam(values, "status"); raw != "" {
		value := properties.Status(raw)
		if !value.Valid() {
			return opts, fmt.Errorf("invalid status filter")
		}
		opts.Status = &value
	}
	if raw := filterParam(values, "city"); raw != "" {
		opts.City = &raw
	}
	if raw := filterParam(values, "featured"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid featured filter")
		}
		opts.Featured = &value
	}

	var err error
	if opts.MinPrice, err = parseFloatParam(values, "min_price"); err != nil {
		return opts, err
	}
	if opts.MaxPrice, err = parseFloatParam(values, "max_price"); err != nil {
		return opts, err
	}
	if raw := filterParam(values, "min_bedrooms"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return opts, fmt.Errorf("invalid min_bedrooms filter")
		}
		opts.MinBedrooms = &value
	}
	if raw := strings.TrimSpace(values.Get("q")); raw != "" {
		if len(raw) > maxSearchQueryLength {
			return opts, fmt.Errorf("query too long (max %d characters)", maxSearchQueryLength)
		}
		opts.Query = &raw
	}

	column, ascending, err := parseOrder(values, string(properties.OrderCreatedAt))
	if err != nil {
		return opts, err
	}
	opts.OrderBy = properties.OrderColumn(column)
	opts.Ascending = ascending

	if opts.Offset, opts.Limit, err = parsePagination(values); err != nil {
		return opts, err
	}
	return opts, nil
}

type propertyPayload struct {
	OwnerID      *uuid.UUID `json:"owner_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ListingType  string     `json:"listing_type"`
	PropertyType string     `json:"property_type"`
	Status       string     `json:"status"`
	Price        float64    `json:"price"`
	Bedrooms     int        `json:"bedrooms"`
	Bathrooms    int        `json:"bathrooms"`
	AreaSqm      *float64   `json:"area_sqm"`
	Address      string     `json:"address"`
	City         string     `json:"city"`
	State        string     `json:"state"`
	PostalCode   string     `json:"postal_code"`
	Country      string     `json:"country"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	Featured     bool       `json:"featured"`
	Images       []string   `json:"images"`
}

// Create stores a new listing owned by the caller.
func (h *PropertyHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.profiles, h.logger)
	if !ok {
		return
	}

	var payload propertyPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}
	if payload.OwnerID != nil && *payload.OwnerID != actor.ID {
		writeError(w, http.StatusForbidden, "owner_id must match the authenticated user")
		return
	}

	property, err := h.service.Create(r.Context(), actor, properties.CreateInput{
		Title:        payload.Title,
		Description:  payload.Description,
		ListingType:  properties.ListingType(payload.ListingType),
		PropertyType: properties.PropertyType(payload.PropertyType),
		Status:       properties.Status(payload.Status),
		Price:        payload.Price,
		Bedrooms:     payload.Bedrooms,
		Bathrooms:    payload.Bathrooms,
		AreaSqm:      payload.AreaSqm,
		Address:      payload.Address,
		City:         payload.City,
		State:        payload.State,
		PostalCode:   payload.PostalCode,
		Country:      payload.Country,
		Latitude:     payload.Latitude,
		Longitude:    payload.Longitude,
		Featured:     payload.Featured,
		Images:       payload.Images,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, property)
}

// Get returns a single listing and records a view.
func (h *PropertyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	property, err := h.service.View(r.Context(), id)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, property)
}

// Update applies a partial update. Nullable fields are cleared with an explicit null.
func (h *PropertyHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.profiles, h.logger)
	if !ok {
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
	input, err := parsePropertyPatch(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	property, err := h.service.Update(r.Context(), actor, id, input)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, property)
}

func parsePropertyPatch(raw map[string]json.RawMessage) (properties.UpdateInput, error) {
	var input properties.UpdateInput
	for key, value := range raw {
		var err error
		switch key {
		case "title":
			input.Title, err = decodeOptional[string](value)
		case "description":
			input.Description, err = decodeOptional[string](value)
		case "listing_type":
			input.ListingType, err = decodeOptional[properties.ListingType](value)
		case "property_type":
			input.PropertyType, err = decodeOptional[properties.PropertyType](value)
		case "status":
			input.Status, err = decodeOptional[properties.Status](value)
		case "price":
			input.Price, err = decodeOptional[float64](value)
		case "bedrooms":
			input.Bedrooms, err = decodeOptional[int](value)
		case "bathrooms":
			input.Bathrooms, err = decodeOptional[int](value)
		case "area_sqm":
			input.AreaSqm, err = decodeNullable[float64](value)
		case "address":
			input.Address, err = decodeOptional[string](value)
		case "city":
			input.City, err = decodeOptional[string](value)
		case "state":
			input.State, err = decodeOptional[string](value)
		case "postal_code":
			input.PostalCode, err = decodeOptional[string](value)
		case "country":
			input.Country, err = decodeOptional[string](value)
		case "latitude":
			input.Latitude, err = decodeNullable[float64](value)
		case "longitude":
			input.Longitude, err = decodeNullable[float64](value)
		case "featured":
			input.Featured, err = decodeOptional[bool](value)
		case "images":
			input.Images, err = decodeOptional[[]string](value)
		case "id", "owner_id", "views", "created_at", "updated_at":
			return properties.UpdateInput{}, fmt.Errorf("%s cannot be changed", key)
		default:
			return properties.UpdateInput{}, fmt.Errorf("unknown field %q", key)
		}
		if err != nil {
			return properties.UpdateInput{}, fmt.Errorf("invalid %s", key)
		}
	}
	return input, nil
}

// Delete removes a listing.
func (h *PropertyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.profiles, h.logger)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const maxImageUploadBytes int64 = properties.MaxImageBytes + 1<<20

// UploadImage accepts a multipart "file" and appends it to the listing's images.
func (h *PropertyHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.profiles, h.logger)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageUploadBytes)
	if err := r.ParseMultipartForm(maxImageUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image upload is too large (max %d bytes)", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid image upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer func() { _ = file.Close() }()

	property, err := h.service.AddImage(r.Context(), actor, id, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, property)
}

// Export streams the caller's listings as CSV.
func (h *PropertyHandler) Export(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.profiles, h.logger)
	if !ok {
		return
	}

	const pageSize = 100
	var all []properties.Property
	for offset := 0; ; offset += pageSize {
		page, total, err := h.service.List(r.Context(), &actor, properties.ListOptions{OwnerID: &actor.ID, Offset: offset, Limit: pageSize})
		if err != nil {
			handleServiceError(w, err, h.logger)
			return
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
	}

	filename := fmt.Sprintf("estately-listings-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := h.exporter.Export(w, all); err != nil {
		h.logger.Error("csv export failed", "error", err)
	}
}

const maxCSVUploadBytes int64 = 5 << 20

// ImportCSV ingests a CSV file of listings for the caller.
func (h *PropertyHandler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		writeError(w, http.StatusNotImplemented, "CSV import is not available")
		return
	}
	actor, ok := requireActor(w, r, h.profiles, h.logger)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCSVUploadBytes)
	if err := r.ParseMultipartForm(maxCSVUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("CSV upload is too large (max %d bytes)", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid CSV upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "CSV file is required")
		return
	}
	defer func() { _ = file.Close() }()

	summary, err := h.importer.Import(r.Context(), file, actor)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// requireActor resolves the caller's profile, writing the error response when it cannot.
func requireActor(w http.ResponseWriter, r *http.Request, lookup profileLookup, logger *slog.Logger) (profiles.Profile, bool) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return profiles.Profile{}, false
	}
	actor, err := lookup.Lookup(r.Context(), principal.User.ID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			writeErrorCode(w, http.StatusForbidden, "profile_required", "complete your profile before continuing")
			return profiles.Profile{}, false
		}
		handleServiceError(w, err, logger)
		return profiles.Profile{}, false
	}
	return actor, true
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	value := chi.URLParam(r, key)
	id, err := uuid.Parse(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// filterParam reads an equality filter, accepting both key=value and key=eq.value.
func filterParam(values url.Values, key string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(values.Get(key)), "eq."))
}

const maxListLimit = 200

// parsePagination reads offset and limit. A zero limit lets the service apply its default.
func parsePagination(values url.Values) (int, int, error) {
	offset, limit := 0, 0
	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, 0, fmt.Errorf("invalid offset")
		}
		offset = value
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > maxListLimit {
			return 0, 0, fmt.Errorf("invalid limit")
		}
		limit = value
	}
	return offset, limit, nil
}

// parseOrder reads order=<column>.<asc|desc>. The direction defaults to descending.
func parseOrder(values url.Values, fallback string) (string, bool, error) {
	raw := strings.TrimSpace(values.Get("order"))
	if raw == "" {
		return fallback, false, nil
	}
	column, direction, found := strings.Cut(raw, ".")
	if column == "" {
		return "", false, fmt.Errorf("invalid order")
	}
	if !found {
		return column, false, nil
	}
	switch strings.ToLower(direction) {
	case "asc":
		return column, true, nil
	case "desc":
		return column, false, nil
	}
	return "", false, fmt.Errorf("invalid order direction %q", direction)
}

func parseFloatParam(values url.Values, key string) (*float64, error) {
	raw := filterParam(values, key)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s filter", key)
	}
	return &value, nil
}

func handleServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeErrorCode(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
	case errors.Is(err, auth.ErrEmailNotConfirmed):
		writeErrorCode(w, http.StatusBadRequest, "email_not_confirmed", "Email not confirmed")
	case errors.Is(err, auth.ErrUserExists):
		writeErrorCode(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
	case errors.Is(err, auth.ErrInvalidToken):
		writeErrorCode(w, http.StatusUnauthorized, "invalid_token", err.Error())
	case errors.Is(err, auth.ErrRateLimited):
		writeErrorCode(w, http.StatusTooManyRequests, "over_request_rate_limit", err.Error())
	case errors.Is(err, properties.ErrListingLimit):
		writeErrorCode(w, http.StatusForbidden, "listing_limit", err.Error())
	case errors.Is(err, properties.ErrPremiumRequired):
		writeErrorCode(w, http.StatusForbidden, "premium_required", err.Error())
	case errors.Is(err, profiles.ErrConflict):
		writeErrorCode(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, auth.ErrValidation),
		errors.Is(err, profiles.ErrValidation),
		errors.Is(err, properties.ErrValidation),
		errors.Is(err, inquiries.ErrValidation),
		errors.Is(err, notifications.ErrValidation),
		errors.Is(err, importer.ErrInvalidCSV),
		errors.Is(err, geocode.ErrInvalidQuery),
		errors.Is(err, storage.ErrInvalidKey):
		writeErrorCode(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, profiles.ErrForbidden),
		errors.Is(err, properties.ErrForbidden),
		errors.Is(err, inquiries.ErrForbidden):
		writeErrorCode(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, profiles.ErrNotFound),
		errors.Is(err, properties.ErrNotFound),
		errors.Is(err, favorites.ErrNotFound),
		errors.Is(err, inquiries.ErrNotFound),
		errors.Is(err, notifications.ErrNotFound),
		errors.Is(err, geocode.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", err.Error())
	default:
		logger.Error("service error", "error", err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
	}
}

const maxJSONBodyBytes int64 = 1 << 20

var errPayloadTooLarge = errors.New("payload too large")

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	limited := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() {
		_ = limited.Close()
	}()

	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w (max %d bytes)", errPayloadTooLarge, maxErr.Limit)
		}
		return err
	}
	return nil
}

func writeJSONError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPayloadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	// Return generic message to avoid leaking internal JSON parsing details
	writeError(w, http.StatusBadRequest, "invalid request body")
}

func decodeOptional[T any](raw json.RawMessage) (*T, error) {
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// decodeNullable distinguishes an explicit null (pointer to nil) from an absent key (nil).
func decodeNullable[T any](raw json.RawMessage) (**T, error) {
	var value *T
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

func clientIPFromRequest(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.HasSuffix(host, "]") {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}
