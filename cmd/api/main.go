package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"estately/internal/auth"
	"estately/internal/config"
	"estately/internal/exporter"
	"estately/internal/favorites"
	"estately/internal/geocode"
	transporthttp "estately/internal/http"
	"estately/internal/importer"
	"estately/internal/inquiries"
	"estately/internal/notifications"
	"estately/internal/platform/database"
	"estately/internal/platform/kv"
	"estately/internal/platform/logging"
	"estately/internal/platform/migrate"
	"estately/internal/profiles"
	"estately/internal/properties"
	"estately/internal/storage"
)

const sessionCleanupInterval = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	displayBanner()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	res, err := openResources(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, res.Close())
	}()

	svc, authSvc, err := buildServices(ctx, cfg, res, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           transporthttp.NewRouter(cfg, svc, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Estately API listening", "addr", srv.Addr, "store", cfg.DataStore, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		cleanupSessions(gctx, authSvc, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// resources are the external connections the API holds open.
type resources struct {
	db    *sqlx.DB
	redis *redis.Client
}

func (r resources) Close() error {
	var err error
	if r.db != nil {
		err = multierr.Append(err, r.db.Close())
	}
	if r.redis != nil {
		err = multierr.Append(err, r.redis.Close())
	}
	return err
}

func openResources(ctx context.Context, cfg config.Config, logger *slog.Logger) (resources, error) {
	var res resources

	if !cfg.UseInMemoryStore() {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return res, err
		}
		res.db = db
		if err := migrate.Apply(ctx, db, logger); err != nil {
			return res, multierr.Append(err, res.Close())
		}
		logger.Info("connected to postgres")
	}

	if cfg.RedisURL != "" {
		client, err := kv.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return res, multierr.Append(err, res.Close())
		}
		res.redis = client
		logger.Info("connected to redis")
	}

	return res, nil
}

func buildServices(ctx context.Context, cfg config.Config, res resources, logger *slog.Logger) (transporthttp.Services, *auth.Service, error) {
	var (
		authRepo         auth.Repository
		profileRepo      profiles.Repository
		propertyRepo     properties.Repository
		favoriteRepo     favorites.Repository
		inquiryRepo      inquiries.Repository
		notificationRepo notifications.Repository
	)
	if res.db != nil {
		authRepo = auth.NewPostgresRepository(res.db)
		profileRepo = profiles.NewPostgresRepository(res.db)
		propertyRepo = properties.NewPostgresRepository(res.db)
		favoriteRepo = favorites.NewPostgresRepository(res.db)
		inquiryRepo = inquiries.NewPostgresRepository(res.db)
		notificationRepo = notifications.NewPostgresRepository(res.db)
	} else {
		logger.Info("using in-memory repositories")
		authRepo = auth.NewInMemoryRepository()
		profileRepo = profiles.NewInMemoryRepository(nil)
		propertyRepo = properties.NewInMemoryRepository(nil)
		favoriteRepo = favorites.NewInMemoryRepository()
		inquiryRepo = inquiries.NewInMemoryRepository()
		notificationRepo = notifications.NewInMemoryRepository()
	}

	var (
		broker  notifications.Broker = notifications.NewHub()
		limiter auth.Limiter         = kv.NewMemoryRateLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)
	)
	if res.redis != nil {
		broker = notifications.NewRedisBroker(res.redis, logger)
		limiter = kv.NewRedisRateLimiter(res.redis, "estately:login", cfg.LoginRateLimit, cfg.LoginRateWindow)
	}

	var mailer auth.Mailer = auth.NewLogMailer(logger)
	if cfg.SMTPEnabled() {
		mailer = auth.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	store, storageDir, err := buildStore(ctx, cfg)
	if err != nil {
		return transporthttp.Services{}, nil, err
	}

	geoOpts := []geocode.Option{geocode.WithUserAgent(cfg.GeocoderUserAgent)}
	if cfg.GeocoderURL != "" {
		geoOpts = append(geoOpts, geocode.WithBaseURL(cfg.GeocoderURL))
	}
	geocoder := geocode.NewService(&http.Client{Timeout: 12 * time.Second}, geoOpts...)

	notificationSvc := notifications.NewService(notificationRepo, broker, logger)
	authSvc := auth.NewService(authRepo, auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL), auth.Options{
		SessionTTL:               cfg.SessionTTL,
		RequireEmailConfirmation: cfg.RequireEmailConfirmation,
		FrontendURL:              cfg.FrontendURL,
		Mailer:                   mailer,
		Limiter:                  limiter,
		Logger:                   logger,
	})
	profileSvc := profiles.NewService(profileRepo,
		profiles.WithNotifier(notificationSvc),
		profiles.WithSelfServeAdminRoles(cfg.SelfServeAdminRoles),
	)
	propertySvc := properties.NewService(propertyRepo,
		properties.WithGeocoder(geocoder),
		properties.WithStore(store),
		properties.WithLogger(logger),
	)

	svc := transporthttp.Services{
		Auth:          authSvc,
		Profiles:      profileSvc,
		Properties:    propertySvc,
		Favorites:     favorites.NewService(favoriteRepo, propertySvc, logger),
		Inquiries:     inquiries.NewService(inquiryRepo, propertySvc, notificationSvc, logger),
		Notifications: notificationSvc,
		Geocoder:      geocoder,
		Importer:      importer.NewCSVImporter(propertySvc),
		Exporter:      exporter.NewCSVExporter(),
		StorageDir:    storageDir,
	}

	if cfg.OAuthEnabled() {
		google, err := auth.NewGoogleAuthenticator(ctx, auth.GoogleConfig{
			ClientID:       cfg.GoogleClientID,
			ClientSecret:   cfg.GoogleClientSecret,
			RedirectURL:    cfg.GoogleRedirectURL,
			AllowedDomains: cfg.GoogleAllowedDomains,
		})
		if err != nil {
			return transporthttp.Services{}, nil, err
		}
		svc.Google = google
		logger.Info("google sign-in enabled")
	}

	if cfg.UseInMemoryStore() {
		if err := seedDemoData(ctx, authSvc, profileSvc, propertySvc, logger); err != nil {
			logger.Warn("seed demo data failed", "error", err)
		}
	}

	return svc, authSvc, nil
}

// buildStore returns the object store and, for local disk, the directory the
// router serves under /storage/.
func buildStore(ctx context.Context, cfg config.Config) (storage.Store, string, error) {
	if cfg.StorageBackend == "s3" {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		return store, "", err
	}

	store, err := storage.NewFilesystemStore(cfg.StorageDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", err
	}
	return store, store.Root(), nil
}

// cleanupSessions prunes expired refresh sessions until ctx ends.
func cleanupSessions(ctx context.Context, authSvc *auth.Service, logger *slog.Logger) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := authSvc.CleanupExpiredSessions(ctx)
			if err != nil {
				logger.Warn("session cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("expired sessions removed", "count", removed)
			}
		}
	}
}

func displayBanner() {
	banner := figure.NewFigure("Estately", "cybermedium", true)
	banner.Print()
	fmt.Println()
}
