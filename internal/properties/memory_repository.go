package properties

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepository stores properties in an in-process map, ideal for local development or tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	data  map[uuid.UUID]Property
	order []uuid.UUID
}

// NewInMemoryRepository constructs a repository seeded with optional initial properties.
func NewInMemoryRepository(initial []Property) *InMemoryRepository {
	data := make(map[uuid.UUID]Property)
	order := make([]uuid.UUID, 0, len(initial))
	for _, p := range initial {
		data[p.ID] = p
		order = append(order, p.ID)
	}
	return &InMemoryRepository{data: data, order: order}
}

// Create stores a new property.
func (r *InMemoryRepository) Create(_ context.Context, property Property) (Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[property.ID] = property
	r.order = append(r.order, property.ID)
	return property, nil
}

// Get returns a property by ID.
func (r *InMemoryRepository) Get(_ context.Context, id uuid.UUID) (Property, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	property, ok := r.data[id]
	if !ok {
		return Property{}, ErrNotFound
	}
	return property, nil
}

// List returns the filtered, ordered page and the unpaginated total.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) ([]Property, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Property, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.data[id]; ok && matches(p, opts) {
			matched = append(matched, p)
		}
	}

	slices.SortStableFunc(matched, func(a, b Property) int {
		return compareProperties(a, b, opts.OrderBy, opts.Ascending)
	})

	total := len(matched)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []Property{}, total, nil
	}
	matched = matched[offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, total, nil
}

// Update replaces an existing property.
func (r *InMemoryRepository) Update(_ context.Context, property Property) (Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[property.ID]; !ok {
		return Property{}, ErrNotFound
	}
	r.data[property.ID] = property
	return property, nil
}

// Delete removes a property by ID.
func (r *InMemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return ErrNotFound
	}
	delete(r.data, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// CountOpenByOwner counts pending and active listings held by the owner.
func (r *InMemoryRepository) CountOpenByOwner(_ context.Context, ownerID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, p := range r.data {
		if p.OwnerID == ownerID && p.Status.Open() {
			count++
		}
	}
	return count, nil
}

// IncrementViews bumps the view counter.
func (r *InMemoryRepository) IncrementViews(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.data[id]
	if !ok {
		return ErrNotFound
	}
	p.Views++
	r.data[id] = p
	return nil
}

func matches(p Property, opts ListOptions) bool {
	if opts.OwnerID != nil && p.OwnerID != *opts.OwnerID {
		return false
	}
	if opts.ListingType != nil && p.ListingType != *opts.ListingType {
		return false
	}
	if opts.PropertyType != nil && p.PropertyType != *opts.PropertyType {
		return false
	}
	if opts.Status != nil && p.Status != *opts.Status {
		return false
	}
	if opts.City != nil && !strings.EqualFold(strings.TrimSpace(p.City), strings.TrimSpace(*opts.City)) {
		return false
	}
	if opts.Featured != nil && p.Featured != *opts.Featured {
		return false
	}
	if opts.MinPrice != nil && p.Price < *opts.MinPrice {
		return false
	}
	if opts.MaxPrice != nil && p.Price > *opts.MaxPrice {
		return false
	}
	if opts.MinBedrooms != nil && p.Bedrooms < *opts.MinBedrooms {
		return false
	}
	if opts.Query != nil {
		q := strings.ToLower(strings.TrimSpace(*opts.Query))
		if q != "" &&
			!strings.Contains(strings.ToLower(p.Title), q) &&
			!strings.Contains(strings.ToLower(p.Description), q) &&
			!strings.Contains(strings.ToLower(p.Address), q) &&
			!strings.Contains(strings.ToLower(p.City), q) {
			return false
		}
	}
	return true
}

func compareProperties(a, b Property, column OrderColumn, ascending bool) int {
	var cmp int
	switch column {
	case OrderPrice:
		cmp = compareFloat(a.Price, b.Price)
	case OrderViews:
		cmp = a.Views - b.Views
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}
	if !ascending {
		cmp = -cmp
	}
	if cmp == 0 {
		return strings.Compare(a.Title, b.Title)
	}
	return cmp
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
