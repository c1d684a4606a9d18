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

// Marketplace configures the marketplace API process.
type Marketplace struct {
	HTTPAddr    string
	PostgresDSN string
	RedisAddr   string
	RedisGeoKey string
	NATSURL     string
	NATSSubject string
	LogLevel    string

	JWTSecret string
	TokenTTL  time.Duration

	SearchDefaultRadiusKM float64
	SearchMaxResults      int

	StrictLifecycle       bool
	TransitionMaxAttempts int
	IdempotencyTTL        time.Duration

	OutboxPoll  time.Duration
	OutboxBatch int
	OutboxRetry int
}

// Search configures the standalone search process.
type Search struct {
	HTTPAddr    string
	GRPCAddr    string
	PostgresDSN string
	RedisAddr   string
	RedisGeoKey string
	LogLevel    string

	SearchDefaultRadiusKM float64
	SearchMaxResults      int
}

// Gateway configures the API gateway.
type Gateway struct {
	HTTPAddr       string
	MarketplaceURL string
	SearchGRPCAddr string
	RedisAddr      string
	LogLevel       string

	ReadRPS    float64
	ReadBurst  float64
	WriteRPS   float64
	WriteBurst float64

	// Per-scope buckets; zero falls back to the read or write bucket.
	SearchRPS    float64
	SearchBurst  float64
	BookingRPS   float64
	BookingBurst float64
	AuthRPS      float64
	AuthBurst    float64
}

// loadDotenv reads .env when present. Variables already set in the process
// environment win.
func loadDotenv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadMarketplace() (Marketplace, error) {
	var errs []error
	if err := loadDotenv(); err != nil {
		errs = append(errs, err)
	}
	cfg := Marketplace{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		PostgresDSN: firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:   strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisGeoKey: getenv("REDIS_GEO_KEY", "offer:locs"),
		NATSURL:     os.Getenv("NATS_URL"),
		NATSSubject: getenv("NATS_SUBJECT", "marketplace.events"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		JWTSecret:   os.Getenv("JWT_SECRET"),
	}
	cfg.TokenTTL = parseDuration("TOKEN_TTL", 7*24*time.Hour, &errs)
	cfg.SearchDefaultRadiusKM = parseFloat("SEARCH_DEFAULT_RADIUS_KM", 30, &errs)
	cfg.SearchMaxResults = parseInt("SEARCH_MAX_RESULTS", 200, &errs)
	cfg.StrictLifecycle = parseBool("STRICT_LIFECYCLE", false, &errs)
	cfg.TransitionMaxAttempts = parseInt("TRANSITION_MAX_ATTEMPTS", 3, &errs)
	cfg.IdempotencyTTL = parseDuration("IDEMPOTENCY_TTL", 24*time.Hour, &errs)
	cfg.OutboxPoll = time.Duration(parseInt("OUTBOX_POLL_MS", 200, &errs)) * time.Millisecond
	cfg.OutboxBatch = parseInt("OUTBOX_BATCH", 100, &errs)
	cfg.OutboxRetry = parseInt("OUTBOX_RETRY_MAX", 3, &errs)

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.SearchDefaultRadiusKM <= 0 {
		errs = append(errs, errors.New("SEARCH_DEFAULT_RADIUS_KM must be > 0"))
	}
	if cfg.SearchMaxResults <= 0 || cfg.SearchMaxResults > 200 {
		errs = append(errs, errors.New("SEARCH_MAX_RESULTS must be in 1..200"))
	}
	if cfg.TransitionMaxAttempts <= 0 {
		errs = append(errs, errors.New("TRANSITION_MAX_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func LoadSearch() (Search, error) {
	var errs []error
	if err := loadDotenv(); err != nil {
		errs = append(errs, err)
	}
	cfg := Search{
		HTTPAddr:    getenv("HTTP_ADDR", ":8081"),
		GRPCAddr:    getenv("GRPC_ADDR", ":9090"),
		PostgresDSN: firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:   strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisGeoKey: getenv("REDIS_GEO_KEY", "offer:locs"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
	}
	cfg.SearchDefaultRadiusKM = parseFloat("SEARCH_DEFAULT_RADIUS_KM", 30, &errs)
	cfg.SearchMaxResults = parseInt("SEARCH_MAX_RESULTS", 200, &errs)
	if cfg.PostgresDSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required"))
	}
	return cfg, errors.Join(errs...)
}

func LoadGateway() (Gateway, error) {
	var errs []error
	if err := loadDotenv(); err != nil {
		errs = append(errs, err)
	}
	cfg := Gateway{
		HTTPAddr:       getenv("HTTP_ADDR", ":8088"),
		MarketplaceURL: strings.TrimRight(getenv("MARKETPLACE_URL", "http://localhost:8080"), "/"),
		SearchGRPCAddr: os.Getenv("SEARCH_GRPC_ADDR"),
		RedisAddr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
	}
	cfg.ReadRPS = parseFloat("RATE_READ_RPS", 50, &errs)
	cfg.ReadBurst = parseFloat("RATE_READ_BURST", 100, &errs)
	cfg.WriteRPS = parseFloat("RATE_WRITE_RPS", 10, &errs)
	cfg.WriteBurst = parseFloat("RATE_WRITE_BURST", 20, &errs)
	cfg.SearchRPS = parseFloat("RATE_SEARCH_RPS", 20, &errs)
	cfg.SearchBurst = parseFloat("RATE_SEARCH_BURST", 40, &errs)
	cfg.BookingRPS = parseFloat("RATE_BOOKING_RPS", 5, &errs)
	cfg.BookingBurst = parseFloat("RATE_BOOKING_BURST", 10, &errs)
	cfg.AuthRPS = parseFloat("RATE_AUTH_RPS", 1, &errs)
	cfg.AuthBurst = parseFloat("RATE_AUTH_BURST", 5, &errs)
	return cfg, errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return parsed
}

func parseFloat(key string, fallback float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return parsed
}

func parseBool(key string, fallback bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return parsed
}

func parseDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return parsed
}
