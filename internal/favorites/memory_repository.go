package favorites

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type favoriteKey struct {
	userID     uuid.UUID
	propertyID uuid.UUID
}

// InMemoryRepository keeps favourites in memory.
type InMemoryRepository struct {
	mu   sync.RWMutex
	data map[favoriteKey]Favorite
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{data: make(map[favoriteKey]Favorite)}
}

func (r *InMemoryRepository) Add(_ context.Context, favorite Favorite) (Favorite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := favoriteKey{favorite.UserID, favorite.PropertyID}
	if existing, ok := r.data[key]; ok {
		return existing, nil
	}
	favorite.Property = nil
	r.data[key] = favorite
	return favorite, nil
}

func (r *InMemoryRepository) Remove(_ context.Context, userID, propertyID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := favoriteKey{userID, propertyID}
	if _, ok := r.data[key]; !ok {
		return false, nil
	}
	delete(r.data, key)
	return true, nil
}

func (r *InMemoryRepository) Exists(_ context.Context, userID, propertyID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.data[favoriteKey{userID, propertyID}]
	return ok, nil
}

func (r *InMemoryRepository) List(_ context.Context, userID uuid.UUID, offset, limit int) ([]Favorite, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]Favorite, 0)
	for key, fav := range r.data {
		if key.userID == userID {
			rows = append(rows, fav)
		}
	}
	slices.SortFunc(rows, func(a, b Favorite) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(rows)
	if offset >= total {
		return []Favorite{}, total, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, total, nil
}
