package inquiries

import (
	"context"
	"errors"
	"time"

	"estately/internal/properties"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a contact request or its property cannot be located.
	ErrNotFound = errors.New("contact request not found")
	// ErrValidation is returned when input validation fails.
	ErrValidation = errors.New("validation error")
	// ErrForbidden is returned when the caller may not act on the request.
	ErrForbidden = errors.New("forbidden")
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

// Status tracks how far the owner has progressed with a request.
type Status string

const (
	StatusNew     Status = "new"
	StatusRead    Status = "read"
	StatusReplied Status = "replied"
	StatusClosed  Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusRead, StatusReplied, StatusClosed:
		return true
	}
	return false
}

// Box selects which side of the conversation to list.
type Box string

const (
	BoxReceived Box = "received"
	BoxSent     Box = "sent"
)

// ContactRequest is a message from a prospective buyer or renter to a listing owner.
type ContactRequest struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PropertyID uuid.UUID `db:"property_id" json:"property_id"`
	SenderID   uuid.UUID `db:"sender_id" json:"sender_id"`
	OwnerID    uuid.UUID `db:"owner_id" json:"owner_id"`
	Name       string    `db:"name" json:"name"`
	Email      string    `db:"email" json:"email"`
	Phone      string    `db:"phone" json:"phone"`
	Message    string    `db:"message" json:"message"`
	Status     Status    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CreateInput captures the form a visitor submits on a listing page.
type CreateInput struct {
	PropertyID uuid.UUID
	Name       string
	Email      string
	Phone      string
	Message    string
}

// ListOptions filters a mailbox listing.
type ListOptions struct {
	OwnerID    *uuid.UUID
	SenderID   *uuid.UUID
	PropertyID *uuid.UUID
	Status     *Status
	Offset     int
	Limit      int
}

// Repository defines persistence operations for contact requests.
type Repository interface {
	Create(ctx context.Context, request ContactRequest) (ContactRequest, error)
	Get(ctx context.Context, id uuid.UUID) (ContactRequest, error)
	List(ctx context.Context, opts ListOptions) ([]ContactRequest, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updatedAt time.Time) (ContactRequest, error)
}

// PropertyReader loads the listing a request refers to.
type PropertyReader interface {
	Get(ctx context.Context, id uuid.UUID) (properties.Property, error)
}

// Notifier delivers an in-app notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string) error
}
