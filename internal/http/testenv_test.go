package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"estately/internal/auth"
	"estately/internal/config"
	"estately/internal/exporter"
	"estately/internal/favorites"
	"estately/internal/importer"
	"estately/internal/inquiries"
	"estately/internal/notifications"
	"estately/internal/profiles"
	"estately/internal/properties"
	"estately/internal/storage"
)

const testPassword = "correct-horse"

// testEnv wires every service on in-memory repositories behind the real router.
type testEnv struct {
	t             *testing.T
	router        http.Handler
	auth          *auth.Service
	profiles      *profiles.Service
	properties    *properties.Service
	notifications *notifications.Service
	hub           *notifications.Hub
	store         *storage.FilesystemStore
}

type testUser struct {
	token   string
	refresh string
	profile profiles.Profile
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := discardLogger()

	store, err := storage.NewFilesystemStore(t.TempDir(), "http://api.test")
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}

	hub := notifications.NewHub()
	notificationSvc := notifications.NewService(notifications.NewInMemoryRepository(), hub, logger)
	authSvc := auth.NewService(auth.NewInMemoryRepository(), auth.NewTokenIssuer("test-secret", time.Hour), auth.Options{Logger: logger})
	profileSvc := profiles.NewService(profiles.NewInMemoryRepository(nil), profiles.WithNotifier(notificationSvc))
	propertySvc := properties.NewService(properties.NewInMemoryRepository(nil), properties.WithStore(store), properties.WithLogger(logger))

	cfg := config.Config{
		Environment:    "development",
		AllowedOrigins: []string{"http://frontend.test"},
		FrontendURL:    "http://frontend.test",
	}
	router := NewRouter(cfg, Services{
		Auth:          authSvc,
		Profiles:      profileSvc,
		Properties:    propertySvc,
		Favorites:     favorites.NewService(favorites.NewInMemoryRepository(), propertySvc, logger),
		Inquiries:     inquiries.NewService(inquiries.NewInMemoryRepository(), propertySvc, notificationSvc, logger),
		Notifications: notificationSvc,
		Importer:      importer.NewCSVImporter(propertySvc),
		Exporter:      exporter.NewCSVExporter(),
		StorageDir:    store.Root(),
	}, logger)

	return &testEnv{
		t:             t,
		router:        router,
		auth:          authSvc,
		profiles:      profileSvc,
		properties:    propertySvc,
		notifications: notificationSvc,
		hub:           hub,
		store:         store,
	}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req, token)
}

func (e *testEnv) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// register signs up through the API and creates the profile with the registration token.
func (e *testEnv) register(email string, role profiles.Role, isAdmin bool) testUser {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/signup", "", map[string]string{"email": email, "password": testPassword})
	if rec.Code != http.StatusOK {
		e.t.Fatalf("signup %s: expected 200, got %d: %s", email, rec.Code, rec.Body.String())
	}
	result := decodeBody[auth.SignUpResult](e.t, rec)
	if result.Session == nil {
		e.t.Fatalf("signup %s: expected a session", email)
	}

	rec = e.do(http.MethodPost, "/api/profiles", result.RegistrationToken, map[string]any{
		"name":     "Member " + email,
		"role":     role,
		"is_admin": isAdmin,
	})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create profile %s: expected 201, got %d: %s", email, rec.Code, rec.Body.String())
	}

	return testUser{
		token:   result.Session.AccessToken,
		refresh: result.Session.RefreshToken,
		profile: decodeBody[profiles.Profile](e.t, rec),
	}
}

func (e *testEnv) createListing(user testUser, title string) properties.Property {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/properties", user.token, map[string]any{
		"title":         title,
		"listing_type":  "sale",
		"property_type": "house",
		"price":         250000,
		"bedrooms":      3,
		"city":          "Lisbon",
	})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create listing %q: expected 201, got %d: %s", title, rec.Code, rec.Body.String())
	}
	return decodeBody[properties.Property](e.t, rec)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorResponse](t, rec).Code
}
