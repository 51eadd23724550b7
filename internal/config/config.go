package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the Estately API.
type Config struct {
	Environment    string
	HTTPPort       int
	DatabaseURL    string
	DataStore      string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	PublicBaseURL  string
	FrontendURL    string

	JWTSecret                string
	AccessTokenTTL           time.Duration
	SessionTTL               time.Duration
	RequireEmailConfirmation bool
	SelfServeAdminRoles      []string
	LoginRateLimit           int64
	LoginRateWindow          time.Duration

	RedisURL string

	StorageBackend string
	StorageDir     string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string

	GoogleClientID       string
	GoogleClientSecret   string
	GoogleRedirectURL    string
	GoogleAllowedDomains []string

	GeocoderURL       string
	GeocoderUserAgent string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load reads configuration from environment variables with sensible defaults for local development.
// A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/estately_database_url")
	if err != nil {
		return Config{}, err
	}

	jwtSecret, err := getEnvOrFile("JWT_SECRET", "/run/secrets/estately_jwt_secret")
	if err != nil {
		return Config{}, err
	}

	googleSecret, err := getEnvOrFile("AUTH_GOOGLE_CLIENT_SECRET", "")
	if err != nil {
		return Config{}, err
	}

	smtpPassword, err := getEnvOrFile("SMTP_PASSWORD", "")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    strings.ToLower(getEnv("APP_ENV", "development")),
		DatabaseURL:    databaseURL,
		DataStore:      strings.ToLower(getEnv("DATA_STORE", "memory")),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		FrontendURL:    strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),

		JWTSecret:                strings.TrimSpace(jwtSecret),
		RequireEmailConfirmation: parseBool(getEnv("AUTH_REQUIRE_EMAIL_CONFIRMATION", "false")),
		SelfServeAdminRoles:      parseCSV(getEnv("AUTH_SELF_SERVE_ADMIN_ROLES", "seller,landlord")),

		RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "filesystem")),
		StorageDir:     getEnv("STORAGE_DIR", "data/storage"),
		S3Bucket:       strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     strings.TrimSpace(os.Getenv("S3_ENDPOINT")),

		GoogleClientID:       strings.TrimSpace(os.Getenv("AUTH_GOOGLE_CLIENT_ID")),
		GoogleClientSecret:   strings.TrimSpace(googleSecret),
		GoogleRedirectURL:    getEnv("AUTH_GOOGLE_REDIRECT_URL", "http://localhost:8080/api/auth/google/callback"),
		GoogleAllowedDomains: parseCSV(os.Getenv("AUTH_GOOGLE_ALLOWED_DOMAINS")),

		GeocoderURL:       strings.TrimSpace(os.Getenv("GEOCODER_URL")),
		GeocoderUserAgent: getEnv("GEOCODER_USER_AGENT", "estately/1.0"),

		SMTPHost:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPUsername: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		SMTPPassword: strings.TrimSpace(smtpPassword),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@estately.local"),
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	smtpPortValue := getEnv("SMTP_PORT", "587")
	smtpPort, err := strconv.Atoi(smtpPortValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SMTP_PORT %q: %w", smtpPortValue, err)
	}
	cfg.SMTPPort = smtpPort

	if cfg.AccessTokenTTL, err = parseDuration("AUTH_ACCESS_TOKEN_TTL", "1h"); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = parseDuration("AUTH_SESSION_TTL", "720h"); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateWindow, err = parseDuration("AUTH_LOGIN_RATE_WINDOW", "15m"); err != nil {
		return Config{}, err
	}

	limitValue := getEnv("AUTH_LOGIN_RATE_LIMIT", "10")
	limit, err := strconv.ParseInt(limitValue, 10, 64)
	if err != nil || limit < 0 {
		return Config{}, fmt.Errorf("invalid AUTH_LOGIN_RATE_LIMIT %q", limitValue)
	}
	cfg.LoginRateLimit = limit

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DataStore {
	case "memory", "postgres":
	default:
		return fmt.Errorf("DATA_STORE must be memory or postgres, got %q", c.DataStore)
	}
	if c.DataStore == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATA_STORE is postgres but DATABASE_URL is not set")
	}

	switch c.StorageBackend {
	case "filesystem":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("STORAGE_BACKEND is s3 but S3_BUCKET is not set")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be filesystem or s3, got %q", c.StorageBackend)
	}

	if c.IsDevelopment() {
		if c.JWTSecret == "" {
			c.JWTSecret = "development-only-secret"
		}
		return nil
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is required outside development and must be at least 32 characters")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS must define at least one origin outside development")
	}
	for _, origin := range c.AllowedOrigins {
		if strings.Contains(origin, "*") {
			return fmt.Errorf("ALLOWED_ORIGINS cannot contain wildcard outside development")
		}
	}
	if c.GoogleClientID != "" && c.GoogleClientSecret == "" {
		return fmt.Errorf("AUTH_GOOGLE_CLIENT_SECRET is required when AUTH_GOOGLE_CLIENT_ID is set")
	}
	return nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// UseInMemoryStore returns true if the in-memory repositories should be used.
func (c Config) UseInMemoryStore() bool {
	return c.DataStore == "memory"
}

// IsDevelopment reports whether the API runs in the development environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// OAuthEnabled returns true when Google sign-in is configured.
func (c Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// SMTPEnabled returns true when outgoing mail should go through SMTP.
func (c Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && parsed
}

func parseDuration(key, fallback string) (time.Duration, error) {
	raw := getEnv(key, fallback)
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return value, nil
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
