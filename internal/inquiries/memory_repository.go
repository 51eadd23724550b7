package inquiries

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository keeps contact requests in memory.
type InMemoryRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]ContactRequest
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{data: make(map[uuid.UUID]ContactRequest)}
}

func (r *InMemoryRepository) Create(_ context.Context, request ContactRequest) (ContactRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[request.ID] = request
	return request, nil
}

func (r *InMemoryRepository) Get(_ context.Context, id uuid.UUID) (ContactRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, ok := r.data[id]
	if !ok {
		return ContactRequest{}, ErrNotFound
	}
	return request, nil
}

func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) ([]ContactRequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]ContactRequest, 0)
	for _, req := range r.data {
		if opts.OwnerID != nil && req.OwnerID != *opts.OwnerID {
			continue
		}
		if opts.SenderID != nil && req.SenderID != *opts.SenderID {
			continue
		}
		if opts.PropertyID != nil && req.PropertyID != *opts.PropertyID {
			continue
		}
		if opts.Status != nil && req.Status != *opts.Status {
			continue
		}
		rows = append(rows, req)
	}
	slices.SortFunc(rows, func(a, b ContactRequest) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(rows)
	if opts.Offset >= total {
		return []ContactRequest{}, total, nil
	}
	rows = rows[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows, total, nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, status Status, updatedAt time.Time) (ContactRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.data[id]
	if !ok {
		return ContactRequest{}, ErrNotFound
	}
	request.Status = status
	request.UpdatedAt = updatedAt
	r.data[id] = request
	return request, nil
}
