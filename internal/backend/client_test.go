package backend_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estately/internal/apitest"
	"estately/internal/backend"
	"estately/internal/notifications"
	"estately/internal/profiles"
	"estately/internal/properties"
)

const testPassword = "correct-horse"

func nextEvent(t *testing.T, sub *backend.Subscription) backend.AuthEvent {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth event")
		return backend.AuthEvent{}
	}
}

// signUpMember registers an account with a profile and leaves the client signed in.
func signUpMember(t *testing.T, c *backend.Client, email string, role profiles.Role) profiles.Profile {
	t.Helper()
	ctx := context.Background()

	result, err := c.SignUp(ctx, email, testPassword)
	require.NoError(t, err)
	require.NotNil(t, result.Session)

	var profile profiles.Profile
	err = c.From("profiles").WithToken(result.RegistrationToken).Insert(ctx, map[string]any{
		"id":       result.User.ID,
		"name":     "Member " + email,
		"role":     role,
		"is_admin": profiles.DefaultAdminForRole(role),
	}, &profile)
	require.NoError(t, err)
	return profile
}

func TestSignUpPersistsSessionAndEmitsSignedIn(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	store := backend.NewFileStore(filepath.Join(t.TempDir(), "session.yaml"))
	c := backend.NewClient(srv.URL, backend.WithSessionStore(store))

	sub := c.OnAuthStateChange()
	defer sub.Unsubscribe()

	result, err := c.SignUp(context.Background(), "ana@example.com", testPassword)
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.NotEmpty(t, result.RegistrationToken)

	event := nextEvent(t, sub)
	assert.Equal(t, backend.SignedIn, event.Type)
	assert.Equal(t, result.User.ID, event.Session.User.ID)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restored := backend.NewClient(srv.URL, backend.WithSessionStore(backend.NewFileStore(store.Path())))
	session, err := restored.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "ana@example.com", session.User.Email)
}

func TestSignInErrorsMapToSentinels(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.SignUp(ctx, "ben@example.com", testPassword)
	require.NoError(t, err)

	_, err = c.SignInWithPassword(ctx, "ben@example.com", "wrong-password")
	require.ErrorIs(t, err, backend.ErrInvalidCredentials)
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)

	_, err = c.SignUp(ctx, "ben@example.com", testPassword)
	assert.ErrorIs(t, err, backend.ErrUserExists)
}

func TestEmailConfirmationFlow(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{RequireEmailConfirmation: true})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()

	result, err := c.SignUp(ctx, "cleo@example.com", testPassword)
	require.NoError(t, err)
	assert.Nil(t, result.Session)

	session, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	_, err = c.SignInWithPassword(ctx, "cleo@example.com", testPassword)
	require.ErrorIs(t, err, backend.ErrEmailNotConfirmed)

	token := srv.Mail.LastToken("cleo@example.com")
	require.NotEmpty(t, token)
	session, err = c.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, session.User.EmailVerified)
}

func TestGetSessionRefreshesExpiredToken(t *testing.T) {
	// Tokens shorter than the refresh margin are renewed on every read.
	srv := apitest.NewServer(t, apitest.Options{AccessTokenTTL: 10 * time.Second})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()

	signedIn, err := c.SignUp(ctx, "dan@example.com", testPassword)
	require.NoError(t, err)

	sub := c.OnAuthStateChange()
	defer sub.Unsubscribe()

	session, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.NotEqual(t, signedIn.Session.RefreshToken, session.RefreshToken)
	assert.Equal(t, backend.TokenRefreshed, nextEvent(t, sub).Type)
}

func TestGetSessionDropsUnrefreshableSession(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	store := backend.NewFileStore(filepath.Join(t.TempDir(), "session.yaml"))
	require.NoError(t, store.Save(&backend.Session{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Hour),
		User:         backend.User{ID: uuid.New(), Email: "gone@example.com"},
	}))

	c := backend.NewClient(srv.URL, backend.WithSessionStore(store))
	sub := c.OnAuthStateChange()
	defer sub.Unsubscribe()

	session, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, backend.SignedOut, nextEvent(t, sub).Type)

	_, err = os.Stat(store.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist), "expected session file to be removed")

	session, err = c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected %s event without a session", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()

	sub := c.OnAuthStateChange()
	_, err := c.SignUp(ctx, "eve@example.com", testPassword)
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx))
	require.NoError(t, c.SignOut(ctx))

	assert.Equal(t, backend.SignedIn, nextEvent(t, sub).Type)
	assert.Equal(t, backend.SignedOut, nextEvent(t, sub).Type)
	assert.Equal(t, backend.SignedOut, nextEvent(t, sub).Type)

	session, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	sub.Unsubscribe()
	sub.Unsubscribe()
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestUpdatePasswordRequiresSession(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()

	require.ErrorIs(t, c.UpdatePassword(ctx, "new-password-1"), backend.ErrNoSession)

	_, err := c.SignUp(ctx, "finn@example.com", testPassword)
	require.NoError(t, err)
	require.NoError(t, c.UpdatePassword(ctx, "new-password-1"))
	require.NoError(t, c.SignOut(ctx))

	_, err = c.SignInWithPassword(ctx, "finn@example.com", "new-password-1")
	require.NoError(t, err)
}

func TestPasswordRecovery(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.SignUp(ctx, "gia@example.com", testPassword)
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx))

	require.NoError(t, c.ResetPasswordForEmail(ctx, "gia@example.com"))
	require.NoError(t, c.ResetPasswordForEmail(ctx, "nobody@example.com"))

	token := srv.Mail.LastToken("gia@example.com")
	require.NotEmpty(t, token)
	require.NoError(t, c.ResetPassword(ctx, token, "recovered-pass"))

	_, err = c.SignInWithPassword(ctx, "gia@example.com", "recovered-pass")
	require.NoError(t, err)
}

func TestTableQueries(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()
	owner := signUpMember(t, c, "hal@example.com", profiles.RoleSeller)
	assert.True(t, owner.IsAdmin)

	for _, listing := range []map[string]any{
		{"title": "Canal house", "listing_type": "sale", "property_type": "house", "price": 640000, "city": "Amsterdam", "bedrooms": 4},
		{"title": "Studio", "listing_type": "rent", "property_type": "apartment", "price": 1400, "city": "Amsterdam", "bedrooms": 1},
		{"title": "Farmhouse", "listing_type": "sale", "property_type": "house", "price": 380000, "city": "Utrecht", "bedrooms": 5},
	} {
		require.NoError(t, c.From("properties").Insert(ctx, listing, nil))
	}

	var rows []properties.Property
	total, err := c.From("properties").
		Eq("city", "Amsterdam").
		Order("price", true).
		Range(0, 0).
		Select(ctx, &rows)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "Studio", rows[0].Title)

	var one properties.Property
	_, err = c.From("properties").Key(rows[0].ID).Select(ctx, &one)
	require.NoError(t, err)
	assert.Equal(t, rows[0].ID, one.ID)

	var updated properties.Property
	require.NoError(t, c.From("properties").Key(one.ID).Update(ctx, map[string]any{"price": 1500}, &updated))
	assert.Equal(t, 1500.0, updated.Price)

	require.NoError(t, c.From("properties").Key(one.ID).Delete(ctx))
	_, err = c.From("properties").Key(one.ID).Select(ctx, &one)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	var missing properties.Property
	err = c.From("properties").Eq("city", "Nowhere").Single(ctx, &missing)
	assert.ErrorIs(t, err, backend.ErrNoRows)

	found, err := c.From("properties").Eq("city", "Utrecht").MaybeSingle(ctx, &missing)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Farmhouse", missing.Title)

	_, err = c.From("properties").Range(3, 1).Select(ctx, &rows)
	assert.Error(t, err)
}

func TestRPCProfileLookup(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()
	me := signUpMember(t, c, "ivy@example.com", profiles.RoleBuyer)

	var profile *profiles.Profile
	require.NoError(t, c.RPC(ctx, "get_profile_by_id", map[string]any{"user_id": me.ID}, &profile))
	require.NotNil(t, profile)
	assert.Equal(t, me.PersonalID, profile.PersonalID)
	assert.False(t, profile.IsAdmin)

	err := c.RPC(ctx, "get_profile_by_id", map[string]any{"user_id": uuid.New()}, &profile)
	assert.ErrorIs(t, err, backend.ErrForbidden)
}

func TestUploadServesPublicImage(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)
	ctx := context.Background()
	signUpMember(t, c, "jon@example.com", profiles.RoleLandlord)

	var listing properties.Property
	require.NoError(t, c.From("properties").Insert(ctx, map[string]any{
		"title": "Loft", "listing_type": "rent", "property_type": "apartment", "price": 2100, "city": "Porto",
	}, &listing))

	image := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	var withImage properties.Property
	require.NoError(t, c.Upload(ctx, listing.ID.String(), "front.png", "image/png", bytes.NewReader(image), &withImage))
	require.Len(t, withImage.Images, 1)

	resp, err := http.Get(c.PublicURL(withImage.Images[0]))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, image, body)

	assert.Equal(t, srv.URL+"/storage/a/b.png", c.PublicURL("/a/b.png"))
}

func TestSubscribeNotificationsDeliversInserts(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)
	me := signUpMember(t, c, "kim@example.com", profiles.RoleRenter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.SubscribeNotifications(ctx)
	require.NoError(t, err)

	created, err := srv.Notifications.Create(context.Background(), notifications.CreateInput{
		UserID: me.ID, Type: "system", Title: "Welcome", Message: "Thanks for joining",
	})
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, "INSERT", event.Type)
		assert.Contains(t, string(event.Data), created.ID.String())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for realtime event")
	}

	cancel()
	for range events {
	}
}

func TestSubscribeNotificationsRequiresSession(t *testing.T) {
	srv := apitest.NewServer(t, apitest.Options{})
	c := backend.NewClient(srv.URL)

	_, err := c.SubscribeNotifications(context.Background())
	assert.ErrorIs(t, err, backend.ErrNoSession)
}
