package properties

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"estately/internal/geocode"
	"estately/internal/profiles"
	"estately/internal/storage"

	"github.com/google/uuid"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 10000
	maxImagesPerProperty = 20
	// MaxImageBytes caps a single uploaded listing photo.
	MaxImageBytes = 5 << 20
	imagePrefix   = "property-images"
	defaultLimit  = 20
	maxLimit      = 100
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// Geocoder resolves a free-form address into coordinates.
type Geocoder interface {
	Lookup(ctx context.Context, query string) (geocode.Location, error)
}

// Service orchestrates validation, listing rules and persistence for properties.
type Service struct {
	repo     Repository
	geocoder Geocoder
	store    storage.Store
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithGeocoder fills in missing coordinates from the listing address.
func WithGeocoder(g Geocoder) Option {
	return func(s *Service) {
		s.geocoder = g
	}
}

// WithStore enables image uploads.
func WithStore(store storage.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithLogger sets the logger used for best-effort side effects.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires a Service with the provided repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and persists a new listing owned by actor.
func (s *Service) Create(ctx context.Context, actor profiles.Profile, input CreateInput) (Property, error) {
	if !actor.Role.CanList() && !actor.IsAdmin {
		return Property{}, fmt.Errorf("%w: only sellers and landlords can list properties", ErrForbidden)
	}

	if input.Status == "" {
		input.Status = StatusActive
	}
	if input.Status != StatusActive && input.Status != StatusPending {
		return Property{}, validationErr("new listings must be pending or active")
	}

	now := s.now().UTC()
	property := Property{
		ID:           uuid.New(),
		OwnerID:      actor.ID,
		Title:        strings.TrimSpace(input.Title),
		Description:  strings.TrimSpace(input.Description),
		ListingType:  input.ListingType,
		PropertyType: input.PropertyType,
		Status:       input.Status,
		Price:        input.Price,
		Bedrooms:     input.Bedrooms,
		Bathrooms:    input.Bathrooms,
		AreaSqm:      input.AreaSqm,
		Address:      strings.TrimSpace(input.Address),
		City:         strings.TrimSpace(input.City),
		State:        strings.TrimSpace(input.State),
		PostalCode:   strings.TrimSpace(input.PostalCode),
		Country:      strings.TrimSpace(input.Country),
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		Featured:     input.Featured,
		Images:       normalizeImages(input.Images),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := validateProperty(property); err != nil {
		return Property{}, err
	}
	if err := s.checkEntitlements(ctx, actor, property, true); err != nil {
		return Property{}, err
	}

	s.fillCoordinates(ctx, &property)

	return s.repo.Create(ctx, property)
}

// Get retrieves a property by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Property, error) {
	return s.repo.Get(ctx, id)
}

// View retrieves a property and records a page view.
func (s *Service) View(ctx context.Context, id uuid.UUID) (Property, error) {
	if err := s.repo.IncrementViews(ctx, id); err != nil {
		return Property{}, err
	}
	return s.repo.Get(ctx, id)
}

// List returns a filtered page of listings and the total match count.
// Viewers who are neither the owner in the filter nor administrators only see active listings
// unless they ask for a specific status.
func (s *Service) List(ctx context.Context, viewer *profiles.Profile, opts ListOptions) ([]Property, int, error) {
	if opts.Status == nil && !canSeeAllStatuses(viewer, opts.OwnerID) {
		active := StatusActive
		opts.Status = &active
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Limit > maxLimit {
		opts.Limit = maxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.OrderBy == "" {
		opts.OrderBy = OrderCreatedAt
	}
	if !opts.OrderBy.Valid() {
		return nil, 0, validationErr("order must be one of created_at, price or views")
	}
	if opts.MinPrice != nil && opts.MaxPrice != nil && *opts.MinPrice > *opts.MaxPrice {
		return nil, 0, validationErr("min_price cannot exceed max_price")
	}

	return s.repo.List(ctx, opts)
}

// Update applies modifications to a listing owned by actor.
func (s *Service) Update(ctx context.Context, actor profiles.Profile, id uuid.UUID, input UpdateInput) (Property, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Property{}, err
	}
	if existing.OwnerID != actor.ID && !actor.IsAdmin {
		return Property{}, ErrForbidden
	}

	wasOpen := existing.Status.Open()
	wasFeatured := existing.Featured
	addressChanged := false

	if input.Title != nil {
		existing.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		existing.Description = strings.TrimSpace(*input.Description)
	}
	if input.ListingType != nil {
		existing.ListingType = *input.ListingType
	}
	if input.PropertyType != nil {
		existing.PropertyType = *input.PropertyType
	}
	if input.Status != nil {
		existing.Status = *input.Status
	}
	if input.Price != nil {
		existing.Price = *input.Price
	}
	if input.Bedrooms != nil {
		existing.Bedrooms = *input.Bedrooms
	}
	if input.Bathrooms != nil {
		existing.Bathrooms = *input.Bathrooms
	}
	if input.AreaSqm != nil {
		existing.AreaSqm = *input.AreaSqm
	}
	if input.Address != nil {
		addressChanged = addressChanged || strings.TrimSpace(*input.Address) != existing.Address
		existing.Address = strings.TrimSpace(*input.Address)
	}
	if input.City != nil {
		addressChanged = addressChanged || strings.TrimSpace(*input.City) != existing.City
		existing.City = strings.TrimSpace(*input.City)
	}
	if input.State != nil {
		existing.State = strings.TrimSpace(*input.State)
	}
	if input.PostalCode != nil {
		existing.PostalCode = strings.TrimSpace(*input.PostalCode)
	}
	if input.Country != nil {
		addressChanged = addressChanged || strings.TrimSpace(*input.Country) != existing.Country
		existing.Country = strings.TrimSpace(*input.Country)
	}
	if input.Latitude != nil {
		existing.Latitude = *input.Latitude
	}
	if input.Longitude != nil {
		existing.Longitude = *input.Longitude
	}
	if input.Featured != nil {
		existing.Featured = *input.Featured
	}
	if input.Images != nil {
		existing.Images = normalizeImages(*input.Images)
	}

	if err := validateProperty(existing); err != nil {
		return Property{}, err
	}

	reopening := !wasOpen && existing.Status.Open()
	featuring := !wasFeatured && existing.Featured
	if reopening || featuring {
		candidate := existing
		candidate.Featured = featuring
		if err := s.checkEntitlements(ctx, actor, candidate, reopening); err != nil {
			return Property{}, err
		}
	}

	if addressChanged && input.Latitude == nil && input.Longitude == nil {
		existing.Latitude, existing.Longitude = nil, nil
		s.fillCoordinates(ctx, &existing)
	}

	existing.UpdatedAt = s.now().UTC()
	return s.repo.Update(ctx, existing)
}

// Delete removes a listing owned by actor along with its stored images.
func (s *Service) Delete(ctx context.Context, actor profiles.Profile, id uuid.UUID) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.OwnerID != actor.ID && !actor.IsAdmin {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	for _, image := range existing.Images {
		s.deleteImage(ctx, image)
	}
	return nil
}

// AddImage uploads a photo and appends its public URL to the listing.
func (s *Service) AddImage(ctx context.Context, actor profiles.Profile, id uuid.UUID, filename, contentType string, size int64, body io.Reader) (Property, error) {
	if s.store == nil {
		return Property{}, errors.New("image storage is not configured")
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Property{}, err
	}
	if existing.OwnerID != actor.ID && !actor.IsAdmin {
		return Property{}, ErrForbidden
	}
	if len(existing.Images) >= maxImagesPerProperty {
		return Property{}, validationErr(fmt.Sprintf("a listing may have at most %d images", maxImagesPerProperty))
	}

	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if !allowedImageTypes[contentType] {
		return Property{}, validationErr("images must be JPEG, PNG, WebP or GIF")
	}
	if size <= 0 || size > MaxImageBytes {
		return Property{}, validationErr("images must be smaller than 5 MB")
	}

	key := storage.NewKey(imagePrefix+"/"+existing.ID.String(), filename)
	if err := s.store.Put(ctx, key, io.LimitReader(body, MaxImageBytes), size, contentType); err != nil {
		return Property{}, fmt.Errorf("store image: %w", err)
	}

	existing.Images = append(existing.Images, s.store.PublicURL(key))
	existing.UpdatedAt = s.now().UTC()

	updated, err := s.repo.Update(ctx, existing)
	if err != nil {
		s.deleteImage(ctx, s.store.PublicURL(key))
		return Property{}, err
	}
	return updated, nil
}

// checkEntitlements applies the free tier limits to the actor's own listings.
// Admins moderating someone else's listing are not limited.
func (s *Service) checkEntitlements(ctx context.Context, actor profiles.Profile, property Property, countsAgainstLimit bool) error {
	if actor.IsAdmin && actor.ID != property.OwnerID {
		return nil
	}
	premium := actor.PremiumActive(s.now())
	if property.Featured && !premium {
		return ErrPremiumRequired
	}
	if countsAgainstLimit && property.Status.Open() && !premium {
		open, err := s.repo.CountOpenByOwner(ctx, actor.ID)
		if err != nil {
			return err
		}
		if open >= FreeListingLimit {
			return ErrListingLimit
		}
	}
	return nil
}

func (s *Service) fillCoordinates(ctx context.Context, property *Property) {
	if s.geocoder == nil || (property.Latitude != nil && property.Longitude != nil) {
		return
	}
	query := geocode.FormatAddress(property.Address, property.City, property.State, property.PostalCode, property.Country)
	if query == "" {
		return
	}
	loc, err := s.geocoder.Lookup(ctx, query)
	if err != nil {
		s.logger.Debug("geocode listing address", "property_id", property.ID, "error", err)
		return
	}
	lat, lon := loc.Latitude, loc.Longitude
	property.Latitude, property.Longitude = &lat, &lon
}

func (s *Service) deleteImage(ctx context.Context, publicURL string) {
	if s.store == nil {
		return
	}
	prefix := s.store.PublicURL("")
	if !strings.HasPrefix(publicURL, prefix) {
		return
	}
	if err := s.store.Delete(ctx, strings.TrimPrefix(publicURL, prefix)); err != nil {
		s.logger.Warn("delete listing image", "url", publicURL, "error", err)
	}
}

func canSeeAllStatuses(viewer *profiles.Profile, ownerFilter *uuid.UUID) bool {
	if viewer == nil {
		return false
	}
	if viewer.IsAdmin {
		return true
	}
	return ownerFilter != nil && *ownerFilter == viewer.ID
}

func validateProperty(p Property) error {
	switch {
	case p.Title == "":
		return validationErr("title is required")
	case len(p.Title) > maxTitleLength:
		return validationErr(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	case len(p.Description) > maxDescriptionLength:
		return validationErr(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	case !p.ListingType.Valid():
		return validationErr("listing_type must be sale or rent")
	case !p.PropertyType.Valid():
		return validationErr("property_type must be one of house, apartment, condo, townhouse, land or commercial")
	case !p.Status.Valid():
		return validationErr("status must be one of pending, active, sold, rented or inactive")
	case math.IsNaN(p.Price) || p.Price <= 0:
		return validationErr("price must be greater than zero")
	case p.Bedrooms < 0 || p.Bathrooms < 0:
		return validationErr("bedrooms and bathrooms cannot be negative")
	case p.AreaSqm != nil && *p.AreaSqm <= 0:
		return validationErr("area_sqm must be greater than zero")
	case p.City == "":
		return validationErr("city is required")
	case (p.Latitude == nil) != (p.Longitude == nil):
		return validationErr("latitude and longitude must be provided together")
	case p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90):
		return validationErr("latitude must be between -90 and 90")
	case p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180):
		return validationErr("longitude must be between -180 and 180")
	case p.Status == StatusSold && p.ListingType == ListingRent:
		return validationErr("rental listings cannot be marked sold")
	case p.Status == StatusRented && p.ListingType == ListingSale:
		return validationErr("sale listings cannot be marked rented")
	case len(p.Images) > maxImagesPerProperty:
		return validationErr(fmt.Sprintf("a listing may have at most %d images", maxImagesPerProperty))
	}
	return nil
}

func normalizeImages(images []string) []string {
	out := make([]string, 0, len(images))
	for _, image := range images {
		if trimmed := strings.TrimSpace(image); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func validationErr(msg string) error {
	return &ValidationError{Message: msg}
}
