package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository implements Repository with in-process maps for development and tests.
type InMemoryRepository struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]User
	sessions     map[uuid.UUID]Session
	sessionIndex map[string]uuid.UUID
	tokens       map[string]OneTimeToken
	now          func() time.Time
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:        make(map[uuid.UUID]User),
		sessions:     make(map[uuid.UUID]Session),
		sessionIndex: make(map[string]uuid.UUID),
		tokens:       make(map[string]OneTimeToken),
		now:          time.Now,
	}
}

// FindUserByID looks up a user by primary key.
func (r *InMemoryRepository) FindUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if user, ok := r.users[id]; ok {
		return &user, nil
	}
	return nil, nil
}

// FindUserByEmail looks up a user by email, case-insensitively.
func (r *InMemoryRepository) FindUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

// FindUserByOAuth looks up a user by OAuth provider and subject.
func (r *InMemoryRepository) FindUserByOAuth(_ context.Context, provider, providerID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.OAuthProvider == provider && user.OAuthProviderID == providerID {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

// CreateUser stores a new user, rejecting duplicate emails.
func (r *InMemoryRepository) CreateUser(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return User{}, ErrUserExists
		}
	}
	r.users[user.ID] = user
	return user, nil
}

// UpdateUser replaces the stored user.
func (r *InMemoryRepository) UpdateUser(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return nil
	}
	r.users[user.ID] = user
	return nil
}

// CreateSession stores a session keyed by its refresh token hash.
func (r *InMemoryRepository) CreateSession(_ context.Context, session Session, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session
	r.sessionIndex[tokenHash] = session.ID
	return nil
}

// FindSession looks up a session by ID.
func (r *InMemoryRepository) FindSession(_ context.Context, id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if session, ok := r.sessions[id]; ok {
		return &session, nil
	}
	return nil, nil
}

// FindSessionByTokenHash looks up a session and its user by refresh token hash.
func (r *InMemoryRepository) FindSessionByTokenHash(_ context.Context, tokenHash string) (*Session, *User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.sessionIndex[tokenHash]
	if !ok {
		return nil, nil, nil
	}
	session, ok := r.sessions[id]
	if !ok {
		return nil, nil, nil
	}
	user, ok := r.users[session.UserID]
	if !ok {
		return nil, nil, nil
	}
	return &session, &user, nil
}

// DeleteSession removes a session.
func (r *InMemoryRepository) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteSessionLocked(id)
	return nil
}

// DeleteUserSessions removes every session of the user except keep.
func (r *InMemoryRepository) DeleteUserSessions(_ context.Context, userID uuid.UUID, keep uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, session := range r.sessions {
		if session.UserID == userID && id != keep {
			r.deleteSessionLocked(id)
		}
	}
	return nil
}

// DeleteExpiredSessions removes all expired sessions.
func (r *InMemoryRepository) DeleteExpiredSessions(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed int64
	for id, session := range r.sessions {
		if session.ExpiresAt.Before(now) {
			r.deleteSessionLocked(id)
			removed++
		}
	}
	for hash, token := range r.tokens {
		if token.ExpiresAt.Before(now) {
			delete(r.tokens, hash)
		}
	}
	return removed, nil
}

func (r *InMemoryRepository) deleteSessionLocked(id uuid.UUID) {
	delete(r.sessions, id)
	for hash, sid := range r.sessionIndex {
		if sid == id {
			delete(r.sessionIndex, hash)
		}
	}
}

// CreateToken stores a one-time token.
func (r *InMemoryRepository) CreateToken(_ context.Context, token OneTimeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[token.TokenHash] = token
	return nil
}

// ConsumeToken removes and returns the token when it matches purpose.
func (r *InMemoryRepository) ConsumeToken(_ context.Context, tokenHash string, purpose TokenPurpose) (*OneTimeToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[tokenHash]
	if !ok || token.Purpose != purpose {
		return nil, nil
	}
	delete(r.tokens, tokenHash)
	return &token, nil
}
