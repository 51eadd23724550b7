package auth

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for user, session and token persistence.
// Lookups return nil without an error when nothing matches.
type Repository interface {
	// User operations
	FindUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByOAuth(ctx context.Context, provider, providerID string) (*User, error)
	CreateUser(ctx context.Context, user User) (User, error)
	UpdateUser(ctx context.Context, user User) error

	// Session operations
	CreateSession(ctx context.Context, session Session, tokenHash string) error
	FindSession(ctx context.Context, id uuid.UUID) (*Session, error)
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, *User, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteUserSessions(ctx context.Context, userID uuid.UUID, keep uuid.UUID) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// One-time token operations
	CreateToken(ctx context.Context, token OneTimeToken) error
	ConsumeToken(ctx context.Context, tokenHash string, purpose TokenPurpose) (*OneTimeToken, error)
}
