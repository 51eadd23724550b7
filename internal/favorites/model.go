package favorites

import (
	"context"
	"errors"
	"time"

	"estately/internal/properties"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the favourite or its property does not exist.
	ErrNotFound = errors.New("favorite not found")
)

// Favorite marks a property saved by a user.
type Favorite struct {
	ID         uuid.UUID            `db:"id" json:"id"`
	UserID     uuid.UUID            `db:"user_id" json:"user_id"`
	PropertyID uuid.UUID            `db:"property_id" json:"property_id"`
	CreatedAt  time.Time            `db:"created_at" json:"created_at"`
	Property   *properties.Property `db:"-" json:"property,omitempty"`
}

// Repository defines persistence operations for favourites.
type Repository interface {
	// Add stores the favourite, returning the existing row when already saved.
	Add(ctx context.Context, favorite Favorite) (Favorite, error)
	Remove(ctx context.Context, userID, propertyID uuid.UUID) (bool, error)
	Exists(ctx context.Context, userID, propertyID uuid.UUID) (bool, error)
	List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Favorite, int, error)
}

// PropertyReader loads the property a favourite points at.
type PropertyReader interface {
	Get(ctx context.Context, id uuid.UUID) (properties.Property, error)
}
