package notifications

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service stores notifications and pushes them to live subscribers.
type Service struct {
	repo   Repository
	broker Broker
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a Service. A nil broker falls back to an in-process Hub.
func NewService(repo Repository, broker Broker, logger *slog.Logger) *Service {
	if broker == nil {
		broker = NewHub()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, broker: broker, logger: logger, now: time.Now}
}

// Create validates and persists a notification, then publishes it.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	if input.UserID == uuid.Nil {
		return Notification{}, &ValidationError{Message: "user_id is required"}
	}
	kind := strings.TrimSpace(input.Type)
	if kind == "" {
		return Notification{}, &ValidationError{Message: "type is required"}
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Notification{}, &ValidationError{Message: "title is required"}
	}

	n := Notification{
		ID:        uuid.New(),
		UserID:    input.UserID,
		Type:      kind,
		Title:     title,
		Message:   strings.TrimSpace(input.Message),
		Link:      strings.TrimSpace(input.Link),
		CreatedAt: s.now().UTC(),
	}

	created, err := s.repo.Create(ctx, n)
	if err != nil {
		return Notification{}, err
	}

	if err := s.broker.Publish(ctx, created); err != nil {
		s.logger.Warn("publish notification failed", "notification_id", created.ID, "error", err)
	}
	return created, nil
}

// Notify is a convenience wrapper around Create for other services.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string) error {
	_, err := s.Create(ctx, CreateInput{UserID: userID, Type: kind, Title: title, Message: message, Link: link})
	if err != nil {
		s.logger.Error("notify failed", "user_id", userID, "type", kind, "error", err)
	}
	return err
}

// List returns a page of the user's notifications and the total count.
func (s *Service) List(ctx context.Context, userID uuid.UUID, opts ListOptions) ([]Notification, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.repo.List(ctx, userID, opts)
}

// CountUnread returns the user's unread notification count.
func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead flags the given notifications as read and returns how many changed.
func (s *Service) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, &ValidationError{Message: "ids are required"}
	}
	return s.repo.MarkRead(ctx, userID, ids)
}

// MarkAllRead flags every unread notification of the user as read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

// Delete removes one of the user's notifications.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.repo.Delete(ctx, userID, id)
}

// Subscribe streams new notifications for the user until cancel is called.
func (s *Service) Subscribe(ctx context.Context, userID uuid.UUID) (<-chan Notification, func(), error) {
	return s.broker.Subscribe(ctx, userID)
}
