package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"estately/internal/backend"
	"estately/internal/profiles"
)

// profileSource is the part of the backend client the fetcher reads through.
type profileSource interface {
	RPC(ctx context.Context, fn string, args, out any) error
	From(table string) *backend.Query
}

// Source names the lookup step that produced a profile.
type Source int

const (
	SourceNone Source = iota
	SourceRPC
	SourceQuery
)

func (s Source) String() string {
	switch s {
	case SourceRPC:
		return "rpc"
	case SourceQuery:
		return "query"
	}
	return "none"
}

// Lookup is the outcome of resolving a profile. Profile is nil when no row
// was found or both steps failed.
type Lookup struct {
	Profile  *profiles.Profile
	Source   Source
	RPCErr   error
	QueryErr error
}

// ProfileFetcher resolves a user id to a profile row: first through the
// get_profile_by_id procedure, then through one direct row query if the
// procedure fails.
type ProfileFetcher struct {
	source profileSource
	logger *slog.Logger
}

// NewProfileFetcher creates a fetcher reading through source.
func NewProfileFetcher(source profileSource, logger *slog.Logger) *ProfileFetcher {
	return &ProfileFetcher{source: source, logger: logger}
}

// Resolve runs the two-step lookup and reports what each step did.
func (f *ProfileFetcher) Resolve(ctx context.Context, userID uuid.UUID) Lookup {
	var profile *profiles.Profile
	err := f.source.RPC(ctx, "get_profile_by_id", map[string]any{"user_id": userID}, &profile)
	if err == nil {
		return Lookup{Profile: profile, Source: SourceRPC}
	}
	f.logger.Warn("profile rpc failed, falling back to direct query", "user_id", userID, "error", err)
	lookup := Lookup{RPCErr: err}

	var row profiles.Profile
	found, err := f.source.From("profiles").Eq("id", userID).MaybeSingle(ctx, &row)
	if err != nil {
		f.logger.Error("profile query failed", "user_id", userID, "error", err)
		lookup.QueryErr = err
		return lookup
	}
	lookup.Source = SourceQuery
	if found {
		lookup.Profile = &row
	}
	return lookup
}

// Fetch returns the profile for userID, or nil when it cannot be read.
func (f *ProfileFetcher) Fetch(ctx context.Context, userID uuid.UUID) *profiles.Profile {
	return f.Resolve(ctx, userID).Profile
}
