package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ProviderCredentials holds the OAuth client credentials for one provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// RateLimitPolicy is a per-endpoint request budget.
type RateLimitPolicy struct {
	MaxRequests int
	Window      time.Duration
}

// Config contains runtime configuration values.
type Config struct {
	Environment       string
	HTTPPort          string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	ServiceName       string
	TelemetryEndpoint string
	TelemetryInsecure bool

	// TokenEncryptionKey is the decoded 32-byte AES-256 key.
	TokenEncryptionKey []byte

	// RedirectURL is the callback URL registered with every provider.
	RedirectURL string

	// Providers maps provider name to client credentials. Providers without
	// credentials stay listed in the registry but reject initiation.
	Providers map[string]ProviderCredentials

	StateTTL          time.Duration
	ProviderTimeout   time.Duration
	SweepSchedule     string
	SweepHorizon      time.Duration
	ReactiveThreshold time.Duration

	InitiateLimit RateLimitPolicy
	CallbackLimit RateLimitPolicy
	RevokeLimit   RateLimitPolicy
}

// Load reads configuration from environment variables. The encryption key and
// database URL are hard requirements; a malformed key is a configuration
// error, never a per-request one.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		ServiceName:       getEnv("SERVICE_NAME", "fitbridge-connect"),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		RedirectURL:       strings.TrimSpace(os.Getenv("OAUTH_REDIRECT_URL")),
		StateTTL:          getDuration("OAUTH_STATE_TTL", 10*time.Minute),
		ProviderTimeout:   getDuration("PROVIDER_HTTP_TIMEOUT", 10*time.Second),
		SweepSchedule:     getEnv("TOKEN_SWEEP_SCHEDULE", "0 * * * *"),
		SweepHorizon:      getDuration("TOKEN_SWEEP_HORIZON", 7*24*time.Hour),
		ReactiveThreshold: getDuration("TOKEN_REFRESH_THRESHOLD", 5*time.Minute),
		InitiateLimit:     RateLimitPolicy{MaxRequests: getInt("RATE_LIMIT_INITIATE", 10), Window: getDuration("RATE_LIMIT_INITIATE_WINDOW", time.Minute)},
		CallbackLimit:     RateLimitPolicy{MaxRequests: getInt("RATE_LIMIT_CALLBACK", 10), Window: getDuration("RATE_LIMIT_CALLBACK_WINDOW", time.Minute)},
		RevokeLimit:       RateLimitPolicy{MaxRequests: getInt("RATE_LIMIT_REVOKE", 5), Window: getDuration("RATE_LIMIT_REVOKE_WINDOW", time.Minute)},
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedirectURL == "" {
		return Config{}, fmt.Errorf("OAUTH_REDIRECT_URL is required")
	}

	key, err := decodeEncryptionKey(os.Getenv("TOKEN_ENCRYPTION_KEY"))
	if err != nil {
		return Config{}, err
	}
	cfg.TokenEncryptionKey = key

	cfg.Providers = map[string]ProviderCredentials{
		"google_fit": {
			ClientID:     strings.TrimSpace(os.Getenv("GOOGLE_FIT_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("GOOGLE_FIT_CLIENT_SECRET")),
		},
		"fitbit": {
			ClientID:     strings.TrimSpace(os.Getenv("FITBIT_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("FITBIT_CLIENT_SECRET")),
		},
		"garmin": {
			ClientID:     strings.TrimSpace(os.Getenv("GARMIN_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("GARMIN_CLIENT_SECRET")),
		},
	}

	return cfg, nil
}

func decodeEncryptionKey(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
