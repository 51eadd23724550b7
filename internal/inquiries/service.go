package inquiries

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"estately/internal/properties"

	"github.com/google/uuid"
)

const (
	maxNameLength    = 120
	maxPhoneLength   = 40
	maxMessageLength = 5000
	defaultLimit     = 50
	maxLimit         = 200

	// NotificationType is the notification kind sent to listing owners.
	NotificationType = "contact_request"
)

// Service validates contact requests and notifies listing owners.
type Service struct {
	repo       Repository
	properties PropertyReader
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewService wires a Service. notifier may be nil.
func NewService(repo Repository, props PropertyReader, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, properties: props, notifier: notifier, logger: logger, now: time.Now}
}

// Create stores a request from senderID about a listing and notifies its owner.
func (s *Service) Create(ctx context.Context, senderID uuid.UUID, input CreateInput) (ContactRequest, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ContactRequest{}, validationErr("name is required")
	}
	if len(name) > maxNameLength {
		return ContactRequest{}, validationErr(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(input.Email))
	if err != nil {
		return ContactRequest{}, validationErr("a valid email address is required")
	}
	phone := strings.TrimSpace(input.Phone)
	if len(phone) > maxPhoneLength {
		return ContactRequest{}, validationErr(fmt.Sprintf("phone must be at most %d characters", maxPhoneLength))
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return ContactRequest{}, validationErr("message is required")
	}
	if len(message) > maxMessageLength {
		return ContactRequest{}, validationErr(fmt.Sprintf("message must be at most %d characters", maxMessageLength))
	}

	property, err := s.properties.Get(ctx, input.PropertyID)
	if err != nil {
		if errors.Is(err, properties.ErrNotFound) {
			return ContactRequest{}, fmt.Errorf("%w: property %s", ErrNotFound, input.PropertyID)
		}
		return ContactRequest{}, err
	}
	if property.OwnerID == senderID {
		return ContactRequest{}, validationErr("you cannot contact yourself about your own listing")
	}

	now := s.now().UTC()
	created, err := s.repo.Create(ctx, ContactRequest{
		ID:         uuid.New(),
		PropertyID: property.ID,
		SenderID:   senderID,
		OwnerID:    property.OwnerID,
		Name:       name,
		Email:      strings.ToLower(addr.Address),
		Phone:      phone,
		Message:    message,
		Status:     StatusNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return ContactRequest{}, err
	}

	if s.notifier != nil {
		title := "New inquiry about " + property.Title
		body := fmt.Sprintf("%s (%s) wrote: %s", name, created.Email, truncate(message, 140))
		if err := s.notifier.Notify(ctx, property.OwnerID, NotificationType, title, body, "/properties/"+property.ID.String()); err != nil {
			s.logger.Warn("notify listing owner", "request_id", created.ID, "owner_id", property.OwnerID, "error", err)
		}
	}

	return created, nil
}

// List returns requests the actor received or sent, newest first.
func (s *Service) List(ctx context.Context, actorID uuid.UUID, box Box, opts ListOptions) ([]ContactRequest, int, error) {
	opts.OwnerID, opts.SenderID = nil, nil
	switch box {
	case BoxReceived, "":
		opts.OwnerID = &actorID
	case BoxSent:
		opts.SenderID = &actorID
	default:
		return nil, 0, validationErr("box must be received or sent")
	}
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, 0, validationErr("status must be one of new, read, replied or closed")
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Limit > maxLimit {
		opts.Limit = maxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.repo.List(ctx, opts)
}

// UpdateStatus lets the listing owner move a request through its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, actorID, id uuid.UUID, status Status) (ContactRequest, error) {
	if !status.Valid() {
		return ContactRequest{}, validationErr("status must be one of new, read, replied or closed")
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return ContactRequest{}, err
	}
	if existing.OwnerID != actorID {
		return ContactRequest{}, ErrForbidden
	}
	if existing.Status == status {
		return existing, nil
	}
	return s.repo.UpdateStatus(ctx, id, status, s.now().UTC())
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}

func validationErr(msg string) error {
	return &ValidationError{Message: msg}
}
