package profiles

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const (
	personalIDPrefix   = "EST-"
	personalIDLength   = 6
	maxNameLength      = 120
	personalIDAttempts = 3
)

// Service orchestrates validation, authorization and persistence for profiles.
type Service struct {
	repo           Repository
	notifier       Notifier
	selfServeAdmin map[Role]bool
	now            func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sends account notifications through n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithSelfServeAdminRoles sets which roles may request the administrator flag at sign-up.
func WithSelfServeAdminRoles(roles []string) Option {
	return func(s *Service) {
		s.selfServeAdmin = make(map[Role]bool, len(roles))
		for _, r := range roles {
			role := Role(strings.ToLower(strings.TrimSpace(r)))
			if role.Valid() {
				s.selfServeAdmin[role] = true
			}
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires a Service with the provided repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		selfServeAdmin: map[Role]bool{RoleSeller: true, RoleLandlord: true},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists the profile row for userID. A user may only create their own row.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (Profile, error) {
	if input.ID == uuid.Nil {
		input.ID = userID
	}
	if input.ID != userID {
		return Profile{}, ErrForbidden
	}

	name, err := normalizeName(input.Name)
	if err != nil {
		return Profile{}, err
	}
	if !input.Role.Valid() {
		return Profile{}, validationErr("role must be one of buyer, seller, renter, landlord")
	}

	if _, err := s.repo.Get(ctx, userID); err == nil {
		return Profile{}, ErrConflict
	} else if !errors.Is(err, ErrNotFound) {
		return Profile{}, err
	}

	now := s.now().UTC()
	profile := Profile{
		ID:        userID,
		Name:      name,
		Role:      input.Role,
		IsPremium: false,
		IsAdmin:   input.IsAdmin && s.selfServeAdmin[input.Role],
		CreatedAt: now,
		UpdatedAt: now,
	}

	for attempt := 0; attempt < personalIDAttempts; attempt++ {
		profile.PersonalID, err = NewPersonalID()
		if err != nil {
			return Profile{}, err
		}
		created, err := s.repo.Create(ctx, profile)
		if errors.Is(err, ErrConflict) {
			if _, getErr := s.repo.Get(ctx, userID); getErr == nil {
				return Profile{}, ErrConflict
			}
			continue
		}
		return created, err
	}
	return Profile{}, fmt.Errorf("create profile: personal id collisions after %d attempts", personalIDAttempts)
}

// Lookup returns the profile for id without access checks. It is meant for
// server-side enrichment of the caller's own identity.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (Profile, error) {
	return s.repo.Get(ctx, id)
}

// Get returns the profile for id when the caller owns it or is an administrator.
func (s *Service) Get(ctx context.Context, actorID, id uuid.UUID) (Profile, error) {
	if actorID != id {
		if err := s.requireAdmin(ctx, actorID); err != nil {
			return Profile{}, err
		}
	}
	return s.repo.Get(ctx, id)
}

// List returns every profile for administrators and only the caller's own row otherwise.
func (s *Service) List(ctx context.Context, actorID uuid.UUID, opts ListOptions) ([]Profile, int, error) {
	actor, err := s.repo.Get(ctx, actorID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, 0, err
	}
	if err != nil || !actor.IsAdmin {
		opts.ID = &actorID
	}
	return s.repo.List(ctx, opts)
}

// Update applies name and role changes. Members may edit their own row; administrators any row.
func (s *Service) Update(ctx context.Context, actorID, id uuid.UUID, input UpdateInput) (Profile, error) {
	if actorID != id {
		if err := s.requireAdmin(ctx, actorID); err != nil {
			return Profile{}, err
		}
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}

	if input.Name != nil {
		name, err := normalizeName(*input.Name)
		if err != nil {
			return Profile{}, err
		}
		existing.Name = name
	}
	if input.Role != nil {
		if !input.Role.Valid() {
			return Profile{}, validationErr("role must be one of buyer, seller, renter, landlord")
		}
		existing.Role = *input.Role
	}

	existing.UpdatedAt = s.now().UTC()
	return s.repo.Update(ctx, existing)
}

// SetRole changes another member's role and administrator flag. Administrators only.
func (s *Service) SetRole(ctx context.Context, actorID, targetID uuid.UUID, role Role, isAdmin *bool) (Profile, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return Profile{}, err
	}
	if !role.Valid() {
		return Profile{}, validationErr("role must be one of buyer, seller, renter, landlord")
	}

	target, err := s.repo.Get(ctx, targetID)
	if err != nil {
		return Profile{}, err
	}

	target.Role = role
	if isAdmin != nil {
		target.IsAdmin = *isAdmin
	}
	target.UpdatedAt = s.now().UTC()

	updated, err := s.repo.Update(ctx, target)
	if err != nil {
		return Profile{}, err
	}

	s.notify(ctx, updated.ID, "role_changed", "Your role was updated",
		fmt.Sprintf("An administrator changed your role to %s.", updated.Role), "/profile")
	return updated, nil
}

// UpgradePremium activates or extends the caller's premium subscription.
// The new period starts at the later of now and the current expiry.
func (s *Service) UpgradePremium(ctx context.Context, actorID uuid.UUID, plan Plan) (Profile, error) {
	period, ok := plan.Duration()
	if !ok {
		return Profile{}, validationErr("plan must be monthly or yearly")
	}

	profile, err := s.repo.Get(ctx, actorID)
	if err != nil {
		return Profile{}, err
	}

	now := s.now().UTC()
	start := now
	if profile.PremiumActive(now) && profile.PremiumExpiresAt != nil {
		start = *profile.PremiumExpiresAt
	}
	expires := start.Add(period)

	profile.IsPremium = true
	profile.PremiumExpiresAt = &expires
	profile.UpdatedAt = now

	updated, err := s.repo.Update(ctx, profile)
	if err != nil {
		return Profile{}, err
	}

	s.notify(ctx, updated.ID, "premium_activated", "Premium membership active",
		fmt.Sprintf("Your %s premium plan is active until %s.", plan, expires.Format("January 2, 2006")), "/profile")
	return updated, nil
}

// CancelPremium ends the caller's premium subscription immediately.
func (s *Service) CancelPremium(ctx context.Context, actorID uuid.UUID) (Profile, error) {
	profile, err := s.repo.Get(ctx, actorID)
	if err != nil {
		return Profile{}, err
	}
	if !profile.IsPremium {
		return profile, nil
	}

	now := s.now().UTC()
	remaining := ""
	if profile.PremiumExpiresAt != nil && profile.PremiumExpiresAt.After(now) {
		remaining = " It had " + strings.TrimSuffix(humanize.RelTime(now, *profile.PremiumExpiresAt, "", ""), " ") + " remaining."
	}

	profile.IsPremium = false
	profile.PremiumExpiresAt = nil
	profile.UpdatedAt = now

	updated, err := s.repo.Update(ctx, profile)
	if err != nil {
		return Profile{}, err
	}

	s.notify(ctx, updated.ID, "premium_cancelled", "Premium membership cancelled",
		"Your premium membership was cancelled."+remaining, "/profile")
	return updated, nil
}

func (s *Service) requireAdmin(ctx context.Context, actorID uuid.UUID) error {
	actor, err := s.repo.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if !actor.IsAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string) {
	if s.notifier == nil {
		return
	}
	// Notification failures never undo the profile change.
	_ = s.notifier.Notify(ctx, userID, kind, title, message, link)
}

// NewPersonalID returns a human-readable member identifier such as EST-K7QW2M.
func NewPersonalID() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate personal id: %w", err)
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return personalIDPrefix + encoded[:personalIDLength], nil
}

func normalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", validationErr("name is required")
	}
	if len(trimmed) > maxNameLength {
		return "", validationErr(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	return trimmed, nil
}

func validationErr(msg string) error {
	return &ValidationError{Message: msg}
}
