package notifications

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepository stores notifications in an in-process map, ideal for local development or tests.
type InMemoryRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]Notification
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{data: make(map[uuid.UUID]Notification)}
}

// Create stores a new notification.
func (r *InMemoryRepository) Create(_ context.Context, n Notification) (Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[n.ID] = n
	return n, nil
}

// List returns the user's notifications newest first together with the unpaginated total.
func (r *InMemoryRepository) List(_ context.Context, userID uuid.UUID, opts ListOptions) ([]Notification, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]Notification, 0)
	for _, n := range r.data {
		if n.UserID != userID {
			continue
		}
		if opts.UnreadOnly && n.IsRead {
			continue
		}
		rows = append(rows, n)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})

	total := len(rows)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []Notification{}, total, nil
	}
	rows = rows[offset:]
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows, total, nil
}

// CountUnread returns the number of unread notifications for the user.
func (r *InMemoryRepository) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.data {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// MarkRead flags the given notifications of the user as read.
func (r *InMemoryRepository) MarkRead(_ context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected int64
	for _, id := range ids {
		n, ok := r.data[id]
		if !ok || n.UserID != userID || n.IsRead {
			continue
		}
		n.IsRead = true
		r.data[id] = n
		affected++
	}
	return affected, nil
}

// MarkAllRead flags every unread notification of the user as read.
func (r *InMemoryRepository) MarkAllRead(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected int64
	for id, n := range r.data {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			r.data[id] = n
			affected++
		}
	}
	return affected, nil
}

// Delete removes a notification owned by the user.
func (r *InMemoryRepository) Delete(_ context.Context, userID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.data[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	delete(r.data, id)
	return nil
}
