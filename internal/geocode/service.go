package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidQuery is returned when the lookup query is empty or too short.
	ErrInvalidQuery = errors.New("query must be at least 3 characters")
	// ErrNotFound is returned when no location matches the query.
	ErrNotFound = errors.New("no location found for the supplied address")
)

// Location is a resolved coordinate pair.
type Location struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

// Service resolves free-form addresses through a Nominatim-compatible search API.
type Service struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

const (
	defaultBaseURL   = "https://nominatim.openstreetmap.org"
	defaultUserAgent = "estately/1.0"
)

// Option configures the Service during construction.
type Option func(*Service)

// WithBaseURL overrides the base URL for search requests.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		if baseURL != "" {
			s.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(userAgent string) Option {
	return func(s *Service) {
		if userAgent != "" {
			s.userAgent = userAgent
		}
	}
}

// NewService constructs a Service.
func NewService(client *http.Client, opts ...Option) *Service {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	svc := &Service{
		client:    client,
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Lookup returns the best match for the supplied address.
func (s *Service) Lookup(ctx context.Context, query string) (Location, error) {
	cleaned := strings.TrimSpace(query)
	if len(cleaned) < 3 {
		return Location{}, ErrInvalidQuery
	}

	endpoint, err := url.Parse(s.baseURL + "/search")
	if err != nil {
		return Location{}, fmt.Errorf("build geocoder url: %w", err)
	}
	values := url.Values{}
	values.Set("q", cleaned)
	values.Set("format", "jsonv2")
	values.Set("limit", "1")
	endpoint.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Location{}, fmt.Errorf("create geocoder request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("call geocoder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var payload []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Location{}, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(payload) == 0 {
		return Location{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(payload[0].Lat, 64)
	if err != nil {
		return Location{}, fmt.Errorf("parse latitude %q: %w", payload[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(payload[0].Lon, 64)
	if err != nil {
		return Location{}, fmt.Errorf("parse longitude %q: %w", payload[0].Lon, err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Location{}, ErrNotFound
	}

	return Location{Latitude: lat, Longitude: lon, DisplayName: strings.TrimSpace(payload[0].DisplayName)}, nil
}

// FormatAddress joins non-empty address parts into a single query string.
func FormatAddress(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, ", ")
}
