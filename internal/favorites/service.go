package favorites

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"estately/internal/properties"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Service manages a user's saved properties.
type Service struct {
	repo       Repository
	properties PropertyReader
	logger     *slog.Logger
	now        func() time.Time
}

// NewService wires a Service. properties is used to verify and expand saved listings.
func NewService(repo Repository, props PropertyReader, logger *slog.Logger) *Service {
	return &Service{repo: repo, properties: props, logger: logger, now: time.Now}
}

// Add saves propertyID for userID. Saving twice returns the original row.
func (s *Service) Add(ctx context.Context, userID, propertyID uuid.UUID) (Favorite, error) {
	property, err := s.properties.Get(ctx, propertyID)
	if err != nil {
		if errors.Is(err, properties.ErrNotFound) {
			return Favorite{}, ErrNotFound
		}
		return Favorite{}, err
	}

	fav, err := s.repo.Add(ctx, Favorite{
		ID:         uuid.New(),
		UserID:     userID,
		PropertyID: propertyID,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return Favorite{}, err
	}
	fav.Property = &property
	return fav, nil
}

// Remove deletes the saved property. Removing an unsaved property is a no-op.
func (s *Service) Remove(ctx context.Context, userID, propertyID uuid.UUID) error {
	_, err := s.repo.Remove(ctx, userID, propertyID)
	return err
}

// Toggle saves or un-saves propertyID and reports whether it is now saved.
func (s *Service) Toggle(ctx context.Context, userID, propertyID uuid.UUID) (bool, error) {
	removed, err := s.repo.Remove(ctx, userID, propertyID)
	if err != nil {
		return false, err
	}
	if removed {
		return false, nil
	}
	if _, err := s.Add(ctx, userID, propertyID); err != nil {
		return false, err
	}
	return true, nil
}

// IsFavorite reports whether userID has saved propertyID.
func (s *Service) IsFavorite(ctx context.Context, userID, propertyID uuid.UUID) (bool, error) {
	return s.repo.Exists(ctx, userID, propertyID)
}

// List returns the user's favourites with their properties expanded, newest first.
// Favourites whose property has since disappeared are returned without a property.
func (s *Service) List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Favorite, int, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, total, err := s.repo.List(ctx, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	for i := range rows {
		property, err := s.properties.Get(ctx, rows[i].PropertyID)
		if err != nil {
			if !errors.Is(err, properties.ErrNotFound) {
				s.logger.Warn("expand favorite", "property_id", rows[i].PropertyID, "error", err)
			}
			continue
		}
		rows[i].Property = &property
	}
	return rows, total, nil
}
