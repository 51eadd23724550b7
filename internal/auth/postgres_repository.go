package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, password_hash, email_verified_at, oauth_provider, oauth_provider_id, created_at, updated_at, last_login_at`

// FindUserByID looks up a user by primary key.
func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindUserByEmail looks up a user by their email address.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

// FindUserByOAuth looks up a user by their OAuth provider and provider ID.
func (r *PostgresRepository) FindUserByOAuth(ctx context.Context, provider, providerID string) (*User, error) {
	return r.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE oauth_provider = $1 AND oauth_provider_id = $2`, provider, providerID)
}

func (r *PostgresRepository) findUser(ctx context.Context, query string, args ...any) (*User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toUser(), nil
}

// CreateUser inserts a new user into the database.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (User, error) {
	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.EmailVerifiedAt,
		user.OAuthProvider,
		user.OAuthProviderID,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLoginAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return User{}, ErrUserExists
		}
		return User{}, err
	}

	return user, nil
}

// UpdateUser persists the mutable user columns.
func (r *PostgresRepository) UpdateUser(ctx context.Context, user User) error {
	const query = `
		UPDATE users
		SET password_hash = $2, email_verified_at = $3, oauth_provider = $4, oauth_provider_id = $5,
		    updated_at = $6, last_login_at = $7
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.PasswordHash,
		user.EmailVerifiedAt,
		user.OAuthProvider,
		user.OAuthProviderID,
		user.UpdatedAt,
		user.LastLoginAt,
	)
	return err
}

// CreateSession inserts a new session into the database.
func (r *PostgresRepository) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	const query = `
		INSERT INTO user_sessions (id, user_id, refresh_token_hash, expires_at, created_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		tokenHash,
		session.ExpiresAt,
		session.CreatedAt,
		session.UserAgent,
		session.IPAddress,
	)
	return err
}

// FindSession looks up a session by ID.
func (r *PostgresRepository) FindSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	const query = `
		SELECT id, user_id, expires_at, created_at, user_agent, ip_address
		FROM user_sessions
		WHERE id = $1
	`

	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	session := row.toSession()
	return &session, nil
}

// FindSessionByTokenHash looks up a session and its associated user by refresh token hash.
func (r *PostgresRepository) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, *User, error) {
	const query = `
		SELECT
			s.id, s.user_id, s.expires_at, s.created_at, s.user_agent, s.ip_address,
			u.email, u.password_hash, u.email_verified_at, u.oauth_provider, u.oauth_provider_id,
			u.created_at AS user_created_at, u.updated_at AS user_updated_at, u.last_login_at
		FROM user_sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.refresh_token_hash = $1
	`

	var row sessionUserRow
	if err := r.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	session := row.toSession()
	return &session, row.toUser(), nil
}

// DeleteSession removes a session from the database.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM user_sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// DeleteUserSessions removes every session of the user except keep.
func (r *PostgresRepository) DeleteUserSessions(ctx context.Context, userID uuid.UUID, keep uuid.UUID) error {
	const query = `DELETE FROM user_sessions WHERE user_id = $1 AND id <> $2`
	_, err := r.db.ExecContext(ctx, query, userID, keep)
	return err
}

// DeleteExpiredSessions removes all expired sessions and one-time tokens.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	now := time.Now()
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE expires_at < $1`, now); err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CreateToken inserts a one-time token.
func (r *PostgresRepository) CreateToken(ctx context.Context, token OneTimeToken) error {
	const query = `
		INSERT INTO auth_tokens (token_hash, user_id, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, token.TokenHash, token.UserID, token.Purpose, token.ExpiresAt, token.CreatedAt)
	return err
}

// ConsumeToken deletes and returns the token when it matches purpose.
func (r *PostgresRepository) ConsumeToken(ctx context.Context, tokenHash string, purpose TokenPurpose) (*OneTimeToken, error) {
	const query = `
		DELETE FROM auth_tokens
		WHERE token_hash = $1 AND purpose = $2
		RETURNING token_hash, user_id, purpose, expires_at, created_at
	`

	var row tokenRow
	if err := r.db.GetContext(ctx, &row, query, tokenHash, purpose); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &OneTimeToken{
		TokenHash: row.TokenHash,
		UserID:    row.UserID,
		Purpose:   TokenPurpose(row.Purpose),
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}, nil
}

// userRow is a database row representation of User.
type userRow struct {
	ID              uuid.UUID  `db:"id"`
	Email           string     `db:"email"`
	PasswordHash    string     `db:"password_hash"`
	EmailVerifiedAt *time.Time `db:"email_verified_at"`
	OAuthProvider   string     `db:"oauth_provider"`
	OAuthProviderID string     `db:"oauth_provider_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	LastLoginAt     *time.Time `db:"last_login_at"`
}

func (r *userRow) toUser() *User {
	return &User{
		ID:              r.ID,
		Email:           r.Email,
		PasswordHash:    r.PasswordHash,
		EmailVerifiedAt: r.EmailVerifiedAt,
		OAuthProvider:   r.OAuthProvider,
		OAuthProviderID: r.OAuthProviderID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		LastLoginAt:     r.LastLoginAt,
	}
}

type sessionRow struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
	UserAgent string    `db:"user_agent"`
	IPAddress string    `db:"ip_address"`
}

func (r sessionRow) toSession() Session {
	return Session{
		ID:        r.ID,
		UserID:    r.UserID,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UserAgent: r.UserAgent,
		IPAddress: r.IPAddress,
	}
}

// sessionUserRow is a database row for the session + user join query.
type sessionUserRow struct {
	sessionRow

	Email           string     `db:"email"`
	PasswordHash    string     `db:"password_hash"`
	EmailVerifiedAt *time.Time `db:"email_verified_at"`
	OAuthProvider   string     `db:"oauth_provider"`
	OAuthProviderID string     `db:"oauth_provider_id"`
	UserCreatedAt   time.Time  `db:"user_created_at"`
	UserUpdatedAt   time.Time  `db:"user_updated_at"`
	LastLoginAt     *time.Time `db:"last_login_at"`
}

func (r *sessionUserRow) toUser() *User {
	return &User{
		ID:              r.UserID,
		Email:           r.Email,
		PasswordHash:    r.PasswordHash,
		EmailVerifiedAt: r.EmailVerifiedAt,
		OAuthProvider:   r.OAuthProvider,
		OAuthProviderID: r.OAuthProviderID,
		CreatedAt:       r.UserCreatedAt,
		UpdatedAt:       r.UserUpdatedAt,
		LastLoginAt:     r.LastLoginAt,
	}
}

type tokenRow struct {
	TokenHash string    `db:"token_hash"`
	UserID    uuid.UUID `db:"user_id"`
	Purpose   string    `db:"purpose"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
