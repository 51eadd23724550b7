package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a profile cannot be located.
	ErrNotFound = errors.New("profile not found")
	// ErrValidation is returned when input validation fails.
	ErrValidation = errors.New("validation error")
	// ErrForbidden is returned when the caller may not act on the profile.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a profile already exists for the user.
	ErrConflict = errors.New("profile already exists")
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

// Role is the membership category chosen at registration.
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSeller   Role = "seller"
	RoleRenter   Role = "renter"
	RoleLandlord Role = "landlord"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleRenter, RoleLandlord:
		return true
	}
	return false
}

// CanList reports whether members with this role may publish listings.
func (r Role) CanList() bool {
	return r == RoleSeller || r == RoleLandlord
}

// DefaultAdminForRole returns the administrator flag requested for a new
// member of the given role. Sellers and landlords request it at sign-up.
//
// The flag is global, not scoped to the member's own listings. An
// administrator can change any member's role and flag through SetRole, read
// every profile, see listings in every status, and edit, delete or feature
// any member's listing. The default matches how the marketplace has always
// onboarded listers. Whether the request is honoured is decided by
// WithSelfServeAdminRoles, configured as AUTH_SELF_SERVE_ADMIN_ROLES, and
// AUTH_SELF_SERVE_ADMIN_ROLES=none makes every new member a non-administrator.
func DefaultAdminForRole(role Role) bool {
	return role == RoleSeller || role == RoleLandlord
}

// Plan identifies a premium subscription period.
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

// Duration returns the subscription length for the plan.
func (p Plan) Duration() (time.Duration, bool) {
	switch p {
	case PlanMonthly:
		return 30 * 24 * time.Hour, true
	case PlanYearly:
		return 365 * 24 * time.Hour, true
	}
	return 0, false
}

// Profile is the application-owned extension of an authenticated user.
type Profile struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	Role             Role       `db:"role" json:"role"`
	IsPremium        bool       `db:"is_premium" json:"is_premium"`
	PremiumExpiresAt *time.Time `db:"premium_expires_at" json:"premium_expires_at,omitempty"`
	IsAdmin          bool       `db:"is_admin" json:"is_admin"`
	PersonalID       string     `db:"personal_id" json:"personal_id"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// PremiumActive reports whether the premium subscription is in force at now.
func (p Profile) PremiumActive(now time.Time) bool {
	if !p.IsPremium {
		return false
	}
	return p.PremiumExpiresAt == nil || now.Before(*p.PremiumExpiresAt)
}

// CreateInput captures the data needed to create a profile row.
type CreateInput struct {
	ID      uuid.UUID
	Name    string
	Role    Role
	IsAdmin bool
}

// UpdateInput captures the editable fields of a profile.
type UpdateInput struct {
	Name *string
	Role *Role
}

// ListOptions describes filters for listing profiles.
type ListOptions struct {
	ID     *uuid.UUID
	Role   *Role
	Offset int
	Limit  int
}

// Repository defines persistence operations for profiles.
type Repository interface {
	Create(ctx context.Context, profile Profile) (Profile, error)
	Get(ctx context.Context, id uuid.UUID) (Profile, error)
	List(ctx context.Context, opts ListOptions) ([]Profile, int, error)
	Update(ctx context.Context, profile Profile) (Profile, error)
}

// Notifier delivers an in-app notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string) error
}
