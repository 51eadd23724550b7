package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCredentials is returned when the email or password does not match.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrEmailNotConfirmed is returned when a password sign-in targets an unverified account.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrUserExists is returned when signing up with an email that is already registered.
	ErrUserExists = errors.New("user already registered")
	// ErrInvalidToken is returned for expired, revoked or malformed tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrRateLimited is returned when too many sign-in attempts were made.
	ErrRateLimited = errors.New("too many sign-in attempts, try again later")
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

// User represents an account known to the auth provider.
type User struct {
	ID              uuid.UUID
	Email           string
	PasswordHash    string
	EmailVerifiedAt *time.Time
	OAuthProvider   string
	OAuthProviderID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastLoginAt     *time.Time
}

// EmailVerified reports whether the account's email address was confirmed.
func (u User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// Public returns the client-facing representation of the user.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified(),
		CreatedAt:     u.CreatedAt,
	}
}

// PublicUser is the user record returned to clients.
type PublicUser struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session represents a refresh-token backed sign-in.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
	UserAgent string
	IPAddress string
}

// Tokens is the credential bundle handed to a client after sign-in.
type Tokens struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresAt    time.Time  `json:"expires_at"`
	User         PublicUser `json:"user"`
}

// SignUpResult describes the outcome of a registration.
type SignUpResult struct {
	User PublicUser `json:"user"`
	// Session is nil when the email address must be confirmed first.
	Session *Tokens `json:"session,omitempty"`
	// RegistrationToken authorizes creating the profile row before the first sign-in.
	RegistrationToken string `json:"registration_token"`
}

// TokenPurpose scopes a one-time token.
type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordRecovery  TokenPurpose = "password_recovery"
)

// OneTimeToken is a hashed single-use token sent by email.
type OneTimeToken struct {
	TokenHash string
	UserID    uuid.UUID
	Purpose   TokenPurpose
	ExpiresAt time.Time
	CreatedAt time.Time
}

// GoogleClaims contains the relevant claims from a Google ID token.
type GoogleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}
