package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const (
	verificationTokenTTL = 24 * time.Hour
	recoveryTokenTTL     = time.Hour
)

// Limiter throttles sign-in attempts per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Principal is the identity behind a verified access token.
type Principal struct {
	User      User
	SessionID uuid.UUID
}

// Options configures a Service.
type Options struct {
	SessionTTL               time.Duration
	RequireEmailConfirmation bool
	FrontendURL              string
	Mailer                   Mailer
	Limiter                  Limiter
	Logger                   *slog.Logger
}

// Service provides authentication business logic.
type Service struct {
	repo                Repository
	tokens              *TokenIssuer
	mailer              Mailer
	limiter             Limiter
	logger              *slog.Logger
	sessionTTL          time.Duration
	requireConfirmation bool
	frontendURL         string
	now                 func() time.Time
}

// NewService creates a new auth Service.
func NewService(repo Repository, tokens *TokenIssuer, opts Options) *Service {
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 30 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mailer == nil {
		opts.Mailer = NewLogMailer(opts.Logger)
	}
	return &Service{
		repo:                repo,
		tokens:              tokens,
		mailer:              opts.Mailer,
		limiter:             opts.Limiter,
		logger:              opts.Logger,
		sessionTTL:          opts.SessionTTL,
		requireConfirmation: opts.RequireEmailConfirmation,
		frontendURL:         opts.FrontendURL,
		now:                 time.Now,
	}
}

// SignUp registers a password account. When email confirmation is required
// the result carries no session and a verification email is sent.
func (s *Service) SignUp(ctx context.Context, email, password, userAgent, ipAddress string) (SignUpResult, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return SignUpResult{}, err
	}
	if err := validatePassword(password); err != nil {
		return SignUpResult{}, err
	}

	existing, err := s.repo.FindUserByEmail(ctx, normalized)
	if err != nil {
		return SignUpResult{}, fmt.Errorf("find user: %w", err)
	}
	if existing != nil {
		return SignUpResult{}, ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return SignUpResult{}, err
	}

	now := s.now().UTC()
	user := User{
		ID:           uuid.New(),
		Email:        normalized,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !s.requireConfirmation {
		user.EmailVerifiedAt = &now
	}

	created, err := s.repo.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return SignUpResult{}, err
		}
		return SignUpResult{}, fmt.Errorf("create user: %w", err)
	}

	registration, err := s.tokens.IssueRegistration(created)
	if err != nil {
		return SignUpResult{}, err
	}
	result := SignUpResult{User: created.Public(), RegistrationToken: registration}

	if s.requireConfirmation {
		if err := s.sendToken(ctx, created, PurposeEmailVerification, verificationTokenTTL); err != nil {
			return SignUpResult{}, err
		}
		return result, nil
	}

	tokens, err := s.issueTokens(ctx, created, userAgent, ipAddress)
	if err != nil {
		return SignUpResult{}, err
	}
	result.Session = &tokens
	return result, nil
}

// SignIn verifies a password and starts a session.
func (s *Service) SignIn(ctx context.Context, email, password, userAgent, ipAddress string) (Tokens, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return Tokens{}, ErrInvalidCredentials
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "signin:"+normalized)
		if err != nil {
			s.logger.Warn("sign-in rate limiter unavailable", "error", err)
		}
		if !allowed {
			return Tokens{}, ErrRateLimited
		}
	}

	user, err := s.repo.FindUserByEmail(ctx, normalized)
	if err != nil {
		return Tokens{}, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !CheckPassword(user.PasswordHash, password) {
		return Tokens{}, ErrInvalidCredentials
	}
	if !user.EmailVerified() {
		return Tokens{}, ErrEmailNotConfirmed
	}

	return s.issueTokens(ctx, *user, userAgent, ipAddress)
}

// Refresh rotates a refresh token, replacing its session.
func (s *Service) Refresh(ctx context.Context, refreshToken, userAgent, ipAddress string) (Tokens, error) {
	if refreshToken == "" {
		return Tokens{}, ErrInvalidToken
	}

	session, user, err := s.repo.FindSessionByTokenHash(ctx, hashToken(refreshToken))
	if err != nil {
		return Tokens{}, fmt.Errorf("find session: %w", err)
	}
	if session == nil || user == nil {
		return Tokens{}, ErrInvalidToken
	}

	if err := s.repo.DeleteSession(ctx, session.ID); err != nil {
		return Tokens{}, fmt.Errorf("delete session: %w", err)
	}
	if s.now().After(session.ExpiresAt) {
		return Tokens{}, ErrInvalidToken
	}

	return s.issueTokens(ctx, *user, userAgent, ipAddress)
}

// Authenticate verifies an access token and confirms its session is still live.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil || session.UserID != userID || s.now().After(session.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	return &Principal{User: *user, SessionID: sessionID}, nil
}

// AuthenticateRegistration verifies a registration token and returns its user.
func (s *Service) AuthenticateRegistration(ctx context.Context, token string) (*User, error) {
	claims, err := s.tokens.ParseRegistration(token)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// SignOut ends a session. Unknown sessions are ignored.
func (s *Service) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return nil
	}
	return s.repo.DeleteSession(ctx, sessionID)
}

// RequestPasswordReset mails a recovery link. Unknown emails are accepted silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	user, err := s.repo.FindUserByEmail(ctx, normalized)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		s.logger.Debug("password reset requested for unknown email")
		return nil
	}
	return s.sendToken(ctx, *user, PurposePasswordRecovery, recoveryTokenTTL)
}

// ResetPassword consumes a recovery token, sets the new password and revokes every session.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.consumeToken(ctx, token, PurposePasswordRecovery)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}
	return s.repo.DeleteUserSessions(ctx, user.ID, uuid.Nil)
}

// UpdatePassword changes the password of a signed-in user and revokes their other sessions.
func (s *Service) UpdatePassword(ctx context.Context, principal Principal, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if err := s.setPassword(ctx, &principal.User, newPassword); err != nil {
		return err
	}
	return s.repo.DeleteUserSessions(ctx, principal.User.ID, principal.SessionID)
}

// VerifyEmail consumes a verification token, confirms the address and starts a session.
func (s *Service) VerifyEmail(ctx context.Context, token, userAgent, ipAddress string) (Tokens, error) {
	user, err := s.consumeToken(ctx, token, PurposeEmailVerification)
	if err != nil {
		return Tokens{}, err
	}
	if !user.EmailVerified() {
		now := s.now().UTC()
		user.EmailVerifiedAt = &now
		user.UpdatedAt = now
		if err := s.repo.UpdateUser(ctx, *user); err != nil {
			return Tokens{}, fmt.Errorf("update user: %w", err)
		}
	}
	return s.issueTokens(ctx, *user, userAgent, ipAddress)
}

// SignInWithGoogle links or creates an account from verified Google claims and starts a session.
func (s *Service) SignInWithGoogle(ctx context.Context, claims *GoogleClaims, userAgent, ipAddress string) (Tokens, bool, error) {
	user, err := s.repo.FindUserByOAuth(ctx, "google", claims.Sub)
	if err != nil {
		return Tokens{}, false, fmt.Errorf("find user: %w", err)
	}

	now := s.now().UTC()
	created := false
	if user == nil {
		email, err := normalizeEmail(claims.Email)
		if err != nil {
			return Tokens{}, false, err
		}
		user, err = s.repo.FindUserByEmail(ctx, email)
		if err != nil {
			return Tokens{}, false, fmt.Errorf("find user: %w", err)
		}
		if user != nil {
			user.OAuthProvider = "google"
			user.OAuthProviderID = claims.Sub
			user.UpdatedAt = now
			if user.EmailVerifiedAt == nil && claims.EmailVerified {
				user.EmailVerifiedAt = &now
			}
			if err := s.repo.UpdateUser(ctx, *user); err != nil {
				return Tokens{}, false, fmt.Errorf("link user: %w", err)
			}
		} else {
			newUser := User{
				ID:              uuid.New(),
				Email:           email,
				OAuthProvider:   "google",
				OAuthProviderID: claims.Sub,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if claims.EmailVerified {
				newUser.EmailVerifiedAt = &now
			}
			stored, err := s.repo.CreateUser(ctx, newUser)
			if err != nil {
				return Tokens{}, false, fmt.Errorf("create user: %w", err)
			}
			user = &stored
			created = true
		}
	}

	tokens, err := s.issueTokens(ctx, *user, userAgent, ipAddress)
	return tokens, created, err
}

// IssueRegistrationToken returns a profile setup token for an existing user.
func (s *Service) IssueRegistrationToken(user User) (string, error) {
	return s.tokens.IssueRegistration(user)
}

// CleanupExpiredSessions removes all expired sessions and tokens.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx)
}

func (s *Service) issueTokens(ctx context.Context, user User, userAgent, ipAddress string) (Tokens, error) {
	refreshToken, err := randomToken()
	if err != nil {
		return Tokens{}, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now().UTC()
	session := Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
		UserAgent: truncateString(userAgent, 512),
		IPAddress: truncateString(ipAddress, 45),
	}
	if err := s.repo.CreateSession(ctx, session, hashToken(refreshToken)); err != nil {
		return Tokens{}, fmt.Errorf("create session: %w", err)
	}

	accessToken, expiresAt, err := s.tokens.IssueAccess(user, session.ID)
	if err != nil {
		return Tokens{}, err
	}

	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		s.logger.Warn("record last login failed", "user_id", user.ID, "error", err)
	}

	return Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         user.Public(),
	}, nil
}

func (s *Service) setPassword(ctx context.Context, user *User, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateUser(ctx, *user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) sendToken(ctx context.Context, user User, purpose TokenPurpose, ttl time.Duration) error {
	token, err := randomToken()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	now := s.now().UTC()
	if err := s.repo.CreateToken(ctx, OneTimeToken{
		TokenHash: hashToken(token),
		UserID:    user.ID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	var subject, path string
	switch purpose {
	case PurposeEmailVerification:
		subject, path = "Confirm your Estately account", "/verify"
	default:
		subject, path = "Reset your Estately password", "/reset-password"
	}
	link := s.frontendURL + path + "?token=" + url.QueryEscape(token)
	body := fmt.Sprintf("Hello,\n\nFollow this link to continue:\n%s\n\nThe link expires in %s.\n", link, ttl)

	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("send %s email: %w", purpose, err)
	}
	return nil
}

func (s *Service) consumeToken(ctx context.Context, token string, purpose TokenPurpose) (*User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	stored, err := s.repo.ConsumeToken(ctx, hashToken(token), purpose)
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if stored == nil || s.now().After(stored.ExpiresAt) {
		return nil, ErrInvalidToken
	}
	user, err := s.repo.FindUserByID(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

func randomToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}

// hashToken returns the SHA-256 hash of the token as a hex string.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// truncateString truncates a string to the given max length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
