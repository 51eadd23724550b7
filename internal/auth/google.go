package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleConfig holds the OAuth client settings for Google sign-in.
type GoogleConfig struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	AllowedDomains []string
}

// GoogleAuthenticator handles Google OAuth 2.0 / OIDC authentication.
type GoogleAuthenticator struct {
	config         *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	allowedDomains map[string]struct{}
}

// NewGoogleAuthenticator discovers Google's OIDC provider and builds an authenticator.
func NewGoogleAuthenticator(ctx context.Context, cfg GoogleConfig) (*GoogleAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	return newGoogleAuthenticator(oauthConfig, provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), cfg.AllowedDomains), nil
}

func newGoogleAuthenticator(config *oauth2.Config, verifier *oidc.IDTokenVerifier, allowedDomains []string) *GoogleAuthenticator {
	domainSet := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domainSet[d] = struct{}{}
		}
	}
	return &GoogleAuthenticator{config: config, verifier: verifier, allowedDomains: domainSet}
}

// AuthURL builds the consent URL for one sign-in attempt. verifier is the
// PKCE secret the callback must present to Exchange.
func (g *GoogleAuthenticator) AuthURL(state, verifier string) string {
	return g.config.AuthCodeURL(
		state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// Exchange redeems the authorization code and returns the verified ID token
// claims. Tokens without a subject are rejected.
func (g *GoogleAuthenticator) Exchange(ctx context.Context, code, verifier string) (*GoogleClaims, error) {
	token, err := g.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token in response")
	}
	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims GoogleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	if claims.Sub == "" {
		return nil, errors.New("id_token without subject")
	}
	return &claims, nil
}

// IsEmailAllowed reports whether the email's domain passes the allowlist.
// An empty allowlist admits every domain.
func (g *GoogleAuthenticator) IsEmailAllowed(email string) bool {
	if len(g.allowedDomains) == 0 {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	_, ok := g.allowedDomains[email[at+1:]]
	return ok
}

// NewOAuthFlow returns a random CSRF state and a PKCE verifier for one
// sign-in attempt.
func NewOAuthFlow() (state, verifier string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), oauth2.GenerateVerifier(), nil
}
