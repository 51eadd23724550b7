package profiles

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepository stores profiles in an in-process map, ideal for local development or tests.
type InMemoryRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Profile
}

// NewInMemoryRepository constructs a repository seeded with optional initial profiles.
func NewInMemoryRepository(initial []Profile) *InMemoryRepository {
	data := make(map[uuid.UUID]Profile, len(initial))
	for _, p := range initial {
		data[p.ID] = p
	}
	return &InMemoryRepository{data: data}
}

// Create stores a new profile.
func (r *InMemoryRepository) Create(_ context.Context, profile Profile) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[profile.ID]; ok {
		return Profile{}, ErrConflict
	}
	for _, existing := range r.data {
		if existing.PersonalID == profile.PersonalID {
			return Profile{}, ErrConflict
		}
	}
	r.data[profile.ID] = profile
	return profile, nil
}

// Get returns a profile by ID.
func (r *InMemoryRepository) Get(_ context.Context, id uuid.UUID) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.data[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return profile, nil
}

// List returns profiles newest first together with the unpaginated total.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) ([]Profile, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Profile, 0, len(r.data))
	for _, p := range r.data {
		if opts.ID != nil && p.ID != *opts.ID {
			continue
		}
		if opts.Role != nil && p.Role != *opts.Role {
			continue
		}
		matched = append(matched, p)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	return paginate(matched, opts.Offset, opts.Limit), total, nil
}

// Update replaces an existing profile.
func (r *InMemoryRepository) Update(_ context.Context, profile Profile) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[profile.ID]; !ok {
		return Profile{}, ErrNotFound
	}
	r.data[profile.ID] = profile
	return profile, nil
}

func paginate(rows []Profile, offset, limit int) []Profile {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []Profile{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
