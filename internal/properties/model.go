package properties

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a property cannot be located.
	ErrNotFound = errors.New("property not found")
	// ErrValidation is returned when input validation fails.
	ErrValidation = errors.New("validation error")
	// ErrForbidden is returned when the caller may not modify the listing.
	ErrForbidden = errors.New("forbidden")
	// ErrListingLimit is returned when a free member already holds the maximum number of open listings.
	ErrListingLimit = errors.New("free members may have at most 3 open listings; upgrade to premium for unlimited listings")
	// ErrPremiumRequired is returned when a premium-only option is requested without an active subscription.
	ErrPremiumRequired = errors.New("featured listings require an active premium membership")
)

// FreeListingLimit is the number of open listings a non-premium member may hold.
const FreeListingLimit = 3

// ValidationError wraps a validation message so callers can distinguish
// client errors from internal failures.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ListingType says whether the property is offered for sale or for rent.
type ListingType string

const (
	ListingSale ListingType = "sale"
	ListingRent ListingType = "rent"
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool {
	return t == ListingSale || t == ListingRent
}

// PropertyType enumerates the kinds of real estate that can be listed.
type PropertyType string

const (
	TypeHouse      PropertyType = "house"
	TypeApartment  PropertyType = "apartment"
	TypeCondo      PropertyType = "condo"
	TypeTownhouse  PropertyType = "townhouse"
	TypeLand       PropertyType = "land"
	TypeCommercial PropertyType = "commercial"
)

// Valid reports whether t is a known property type.
func (t PropertyType) Valid() bool {
	switch t {
	case TypeHouse, TypeApartment, TypeCondo, TypeTownhouse, TypeLand, TypeCommercial:
		return true
	}
	return false
}

// Status tracks where a listing is in its lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusSold     Status = "sold"
	StatusRented   Status = "rented"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSold, StatusRented, StatusInactive:
		return true
	}
	return false
}

// Open reports whether the listing counts against the free listing limit.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusActive
}

// Property is a real-estate listing.
type Property struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	OwnerID      uuid.UUID      `db:"owner_id" json:"owner_id"`
	Title        string         `db:"title" json:"title"`
	Description  string         `db:"description" json:"description"`
	ListingType  ListingType    `db:"listing_type" json:"listing_type"`
	PropertyType PropertyType   `db:"property_type" json:"property_type"`
	Status       Status         `db:"status" json:"status"`
	Price        float64        `db:"price" json:"price"`
	Bedrooms     int            `db:"bedrooms" json:"bedrooms"`
	Bathrooms    int            `db:"bathrooms" json:"bathrooms"`
	AreaSqm      *float64       `db:"area_sqm" json:"area_sqm,omitempty"`
	Address      string         `db:"address" json:"address"`
	City         string         `db:"city" json:"city"`
	State        string         `db:"state" json:"state"`
	PostalCode   string         `db:"postal_code" json:"postal_code"`
	Country      string         `db:"country" json:"country"`
	Latitude     *float64       `db:"latitude" json:"latitude,omitempty"`
	Longitude    *float64       `db:"longitude" json:"longitude,omitempty"`
	Featured     bool           `db:"featured" json:"featured"`
	Images       pq.StringArray `db:"images" json:"images"`
	Views        int            `db:"views" json:"views"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// CreateInput captures the data needed to create a new Property.
type CreateInput struct {
	Title        string
	Description  string
	ListingType  ListingType
	PropertyType PropertyType
	Status       Status
	Price        float64
	Bedrooms     int
	Bathrooms    int
	AreaSqm      *float64
	Address      string
	City         string
	State        string
	PostalCode   string
	Country      string
	Latitude     *float64
	Longitude    *float64
	Featured     bool
	Images       []string
}

// UpdateInput captures the editable fields for an existing property.
type UpdateInput struct {
	Title        *string
	Description  *string
	ListingType  *ListingType
	PropertyType *PropertyType
	Status       *Status
	Price        *float64
	Bedrooms     *int
	Bathrooms    *int
	AreaSqm      **float64
	Address      *string
	City         *string
	State        *string
	PostalCode   *string
	Country      *string
	Latitude     **float64
	Longitude    **float64
	Featured     *bool
	Images       *[]string
}

// OrderColumn is a sortable listing column.
type OrderColumn string

const (
	OrderCreatedAt OrderColumn = "created_at"
	OrderPrice     OrderColumn = "price"
	OrderViews     OrderColumn = "views"
)

// Valid reports whether c is a sortable column.
func (c OrderColumn) Valid() bool {
	return c == OrderCreatedAt || c == OrderPrice || c == OrderViews
}

// ListOptions describes filters for listing properties.
type ListOptions struct {
	OwnerID      *uuid.UUID
	ListingType  *ListingType
	PropertyType *PropertyType
	Status       *Status
	City         *string
	Featured     *bool
	MinPrice     *float64
	MaxPrice     *float64
	MinBedrooms  *int
	Query        *string
	OrderBy      OrderColumn
	Ascending    bool
	Offset       int
	Limit        int
}

// Repository defines persistence operations for properties.
type Repository interface {
	Create(ctx context.Context, property Property) (Property, error)
	Get(ctx context.Context, id uuid.UUID) (Property, error)
	List(ctx context.Context, opts ListOptions) ([]Property, int, error)
	Update(ctx context.Context, property Property) (Property, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountOpenByOwner(ctx context.Context, ownerID uuid.UUID) (int, error)
	IncrementViews(ctx context.Context, id uuid.UUID) error
}
