// Package apitest runs the Estately API on in-memory repositories for
// client-side tests.
package apitest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"estately/internal/auth"
	"estately/internal/config"
	"estately/internal/exporter"
	"estately/internal/favorites"
	apihttp "estately/internal/http"
	"estately/internal/importer"
	"estately/internal/inquiries"
	"estately/internal/notifications"
	"estately/internal/profiles"
	"estately/internal/properties"
	"estately/internal/storage"
)

// Options adjusts the test server.
type Options struct {
	// RequireEmailConfirmation withholds sessions until the address is verified.
	RequireEmailConfirmation bool
	// AccessTokenTTL defaults to one hour.
	AccessTokenTTL time.Duration
	// Wrap, when set, sits in front of the router for fault injection.
	Wrap func(http.Handler) http.Handler
}

// Server is a running API with handles on its services.
type Server struct {
	*httptest.Server

	Auth          *auth.Service
	Profiles      *profiles.Service
	Properties    *properties.Service
	Notifications *notifications.Service
	Hub           *notifications.Hub
	Mail          *MailRecorder
}

// NewServer starts an API server that is closed when the test ends.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.AccessTokenTTL == 0 {
		opts.AccessTokenTTL = time.Hour
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	store, err := storage.NewFilesystemStore(t.TempDir(), baseURL)
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}

	mail := &MailRecorder{}
	hub := notifications.NewHub()
	notificationSvc := notifications.NewService(notifications.NewInMemoryRepository(), hub, logger)
	authSvc := auth.NewService(auth.NewInMemoryRepository(), auth.NewTokenIssuer("apitest-secret", opts.AccessTokenTTL), auth.Options{
		RequireEmailConfirmation: opts.RequireEmailConfirmation,
		FrontendURL:              "http://frontend.test",
		Mailer:                   mail,
		Logger:                   logger,
	})
	profileSvc := profiles.NewService(profiles.NewInMemoryRepository(nil), profiles.WithNotifier(notificationSvc))
	propertySvc := properties.NewService(properties.NewInMemoryRepository(nil), properties.WithStore(store), properties.WithLogger(logger))

	cfg := config.Config{
		Environment:    "development",
		AllowedOrigins: []string{"http://frontend.test"},
		FrontendURL:    "http://frontend.test",
	}
	var handler http.Handler = apihttp.NewRouter(cfg, apihttp.Services{
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
	if opts.Wrap != nil {
		handler = opts.Wrap(handler)
	}

	srv.Config.Handler = handler
	srv.Start()
	t.Cleanup(srv.Close)

	return &Server{
		Server:        srv,
		Auth:          authSvc,
		Profiles:      profileSvc,
		Properties:    propertySvc,
		Notifications: notificationSvc,
		Hub:           hub,
		Mail:          mail,
	}
}

// Message is one captured email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// MailRecorder captures outgoing mail instead of delivering it.
type MailRecorder struct {
	mu       sync.Mutex
	messages []Message
}

func (m *MailRecorder) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{To: to, Subject: subject, Body: body})
	return nil
}

// Messages returns every captured email.
func (m *MailRecorder) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// LastToken extracts the token from the most recent link mailed to address.
func (m *MailRecorder) LastToken(address string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if !strings.EqualFold(m.messages[i].To, address) {
			continue
		}
		for _, field := range strings.Fields(m.messages[i].Body) {
			link, err := url.Parse(field)
			if err != nil {
				continue
			}
			if token := link.Query().Get("token"); token != "" {
				return token
			}
		}
	}
	return ""
}
