package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a notification cannot be located.
	ErrNotFound = errors.New("notification not found")
	// ErrValidation is returned when input validation fails.
	ErrValidation = errors.New("validation error")
)

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

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	Link      string    `db:"link" json:"link"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CreateInput captures the data needed to create a notification.
type CreateInput struct {
	UserID  uuid.UUID
	Type    string
	Title   string
	Message string
	Link    string
}

// ListOptions describes filters for listing a user's notifications.
type ListOptions struct {
	UnreadOnly bool
	Offset     int
	Limit      int
}

// Repository defines persistence operations for notifications.
type Repository interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	List(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]Notification, int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// Broker fans out newly inserted notifications to live subscribers of a user.
type Broker interface {
	Publish(ctx context.Context, n Notification) error
	Subscribe(ctx context.Context, userID uuid.UUID) (<-chan Notification, func(), error)
}
