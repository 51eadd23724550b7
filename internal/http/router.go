package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"estately/internal/auth"
	"estately/internal/config"
	"estately/internal/exporter"
	"estately/internal/favorites"
	"estately/internal/importer"
	"estately/internal/inquiries"
	"estately/internal/notifications"
	"estately/internal/profiles"
	"estately/internal/properties"
)

// Services bundles the domain services exposed over HTTP.
type Services struct {
	Auth          *auth.Service
	Google        googleAuthenticator
	Profiles      *profiles.Service
	Properties    *properties.Service
	Favorites     *favorites.Service
	Inquiries     *inquiries.Service
	Notifications *notifications.Service
	Geocoder      AddressLookup
	Importer      *importer.CSVImporter
	Exporter      *exporter.CSVExporter
	// StorageDir is served under /storage/ when uploads live on local disk.
	StorageDir string
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, svc Services, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})

	if svc.StorageDir != "" {
		r.Handle("/storage/*", http.StripPrefix("/storage/", http.FileServer(http.Dir(svc.StorageDir))))
	}

	requireAuth := newAuthMiddleware(svc.Auth, authRequired, logger)
	optionalAuth := newAuthMiddleware(svc.Auth, authOptional, logger)

	authHandler := NewAuthHandler(svc.Auth, logger)
	profileHandler := NewProfileHandler(svc.Profiles, svc.Auth, logger)
	propertyHandler := NewPropertyHandler(svc.Properties, svc.Profiles, svc.Importer, svc.Exporter, logger)
	favoriteHandler := NewFavoriteHandler(svc.Favorites, logger)
	inquiryHandler := NewInquiryHandler(svc.Inquiries, logger)
	notificationHandler := NewNotificationHandler(svc.Notifications, logger)

	r.Route("/api", func(r chi.Router) {
		// The realtime feed is long-lived and must not be cut by the request timeout.
		r.With(newAuthMiddleware(svc.Auth, authRequiredQuery, logger)).
			Get("/realtime/notifications", notificationHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/auth", func(r chi.Router) {
				r.Post("/signup", authHandler.Signup)
				r.Post("/token", authHandler.Token)
				r.Post("/recover", authHandler.Recover)
				r.Post("/reset", authHandler.Reset)
				r.Post("/verify", authHandler.Verify)
				r.With(requireAuth).Post("/logout", authHandler.Logout)
				r.With(requireAuth).Get("/user", authHandler.GetUser)
				r.With(requireAuth).Put("/user", authHandler.UpdateUser)

				if svc.Google != nil {
					oauthHandler := NewOAuthHandler(svc.Google, svc.Auth, cfg.FrontendURL, cfg.Environment, logger)
					r.Get("/google", oauthHandler.InitiateGoogle)
					r.Get("/google/callback", oauthHandler.CallbackGoogle)
				}
			})

			r.Route("/profiles", func(r chi.Router) {
				// Profile creation also accepts the registration token issued at sign-up.
				r.Post("/", profileHandler.Create)
				r.With(requireAuth).Get("/", profileHandler.List)
				r.With(requireAuth).Get("/{id}", profileHandler.Get)
				r.With(requireAuth).Patch("/{id}", profileHandler.Update)
			})

			r.Route("/rpc", func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/get_profile_by_id", profileHandler.GetProfileByID)
				r.Post("/set_user_role", profileHandler.SetUserRole)
				r.Post("/upgrade_premium", profileHandler.UpgradePremium)
				r.Post("/cancel_premium", profileHandler.CancelPremium)
			})

			r.Route("/properties", func(r chi.Router) {
				r.With(optionalAuth).Get("/", propertyHandler.List)
				r.With(requireAuth).Post("/", propertyHandler.Create)
				r.With(requireAuth).Get("/export", propertyHandler.Export)
				r.With(requireAuth).Post("/import", propertyHandler.ImportCSV)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", propertyHandler.Get)
					r.With(requireAuth).Patch("/", propertyHandler.Update)
					r.With(requireAuth).Delete("/", propertyHandler.Delete)
					r.With(requireAuth).Post("/images", propertyHandler.UploadImage)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)

				r.Route("/favorites", func(r chi.Router) {
					r.Get("/", favoriteHandler.List)
					r.Post("/", favoriteHandler.Add)
					r.Delete("/{propertyID}", favoriteHandler.Remove)
				})

				r.Route("/contact_requests", func(r chi.Router) {
					r.Get("/", inquiryHandler.List)
					r.Post("/", inquiryHandler.Create)
					r.Patch("/{id}", inquiryHandler.UpdateStatus)
				})

				r.Route("/notifications", func(r chi.Router) {
					r.Get("/", notificationHandler.List)
					r.Get("/unread_count", notificationHandler.UnreadCount)
					r.Post("/read", notificationHandler.MarkRead)
					r.Post("/read_all", notificationHandler.MarkAllRead)
					r.Delete("/{id}", notificationHandler.Delete)
				})
			})

			if svc.Geocoder != nil {
				geocodeHandler := NewGeocodeHandler(svc.Geocoder, logger)
				r.Get("/geocode", geocodeHandler.Lookup)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}
