// --- File: notifyservice/config/config.go ---
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RateLimitConfig describes one fixed-window admission scope.
type RateLimitConfig struct {
	Window  time.Duration
	Ceiling int
}

// AppConfig is the final, validated, internal configuration struct used
// throughout the application.
type AppConfig struct {
	RunMode       string
	APIPort       string
	WebSocketPort string

	SigningSecret string
	TokenTTL      time.Duration
	WebhookAPIKey string

	Database YamlDatabaseConfig
	Redis    YamlRedisConfig

	HTTPRateLimit   RateLimitConfig
	SocketRateLimit RateLimitConfig

	AllowedOrigins []string
}

// Defaults applied when neither YAML nor the environment sets a value.
const (
	defaultAPIPort       = "8080"
	defaultWebSocketPort = "8081"
	defaultTokenTTL      = 24 * time.Hour
	defaultDBPoolSize    = 10

	defaultHTTPWindow    = 15 * time.Minute
	defaultHTTPCeiling   = 100
	defaultSocketWindow  = 10 * time.Second
	defaultSocketCeiling = 5
)

// ApplyEnvOverrides is Stage 2. It mutates the AppConfig with values from the
// environment, applies defaults, and performs final validation.
func (cfg *AppConfig) ApplyEnvOverrides(logger zerolog.Logger) error {
	logger.Debug().Msg("Applying environment variable overrides")

	overrideString(&cfg.RunMode, "RUN_MODE")
	overrideString(&cfg.APIPort, "API_PORT")
	overrideString(&cfg.WebSocketPort, "WEBSOCKET_PORT")
	overrideString(&cfg.SigningSecret, "SIGNING_SECRET")
	overrideString(&cfg.WebhookAPIKey, "WEBHOOK_API_KEY")
	overrideString(&cfg.Database.DSN, "DATABASE_URL")
	overrideString(&cfg.Redis.Addr, "REDIS_ADDR")

	if err := overrideInt(&cfg.Database.PoolSize, "DB_POOL_SIZE"); err != nil {
		return err
	}
	if err := overrideDuration(&cfg.TokenTTL, "TOKEN_TTL"); err != nil {
		return err
	}
	if err := overrideDuration(&cfg.HTTPRateLimit.Window, "HTTP_RATE_LIMIT_WINDOW"); err != nil {
		return err
	}
	if err := overrideInt(&cfg.HTTPRateLimit.Ceiling, "HTTP_RATE_LIMIT_CEILING"); err != nil {
		return err
	}
	if err := overrideDuration(&cfg.SocketRateLimit.Window, "SOCKET_RATE_LIMIT_WINDOW"); err != nil {
		return err
	}
	if err := overrideInt(&cfg.SocketRateLimit.Ceiling, "SOCKET_RATE_LIMIT_CEILING"); err != nil {
		return err
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
		logger.Info().Strs("origins", cfg.AllowedOrigins).Msg("Overriding allowed origins from env")
	}

	cfg.applyDefaults()

	if !cfg.IsProduction() {
		if cfg.SigningSecret == "" {
			cfg.SigningSecret = "local-dev-secret"
			logger.Warn().Msg("No signing secret configured. Using an insecure local development secret.")
		}
		if cfg.WebhookAPIKey == "" {
			cfg.WebhookAPIKey = "local-dev-key"
			logger.Warn().Msg("No webhook API key configured. Using an insecure local development key.")
		}
	}

	return cfg.validate()
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.RunMode == "" {
		cfg.RunMode = "local"
	}
	if cfg.APIPort == "" {
		cfg.APIPort = defaultAPIPort
	}
	if cfg.WebSocketPort == "" {
		cfg.WebSocketPort = defaultWebSocketPort
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = defaultDBPoolSize
	}
	if cfg.HTTPRateLimit.Window <= 0 {
		cfg.HTTPRateLimit.Window = defaultHTTPWindow
	}
	if cfg.HTTPRateLimit.Ceiling <= 0 {
		cfg.HTTPRateLimit.Ceiling = defaultHTTPCeiling
	}
	if cfg.SocketRateLimit.Window <= 0 {
		cfg.SocketRateLimit.Window = defaultSocketWindow
	}
	if cfg.SocketRateLimit.Ceiling <= 0 {
		cfg.SocketRateLimit.Ceiling = defaultSocketCeiling
	}
}

func (cfg *AppConfig) validate() error {
	if cfg.RunMode == "prod" {
		if cfg.Database.DSN == "" {
			return errors.New("database DSN is required (set database.dsn or DATABASE_URL)")
		}
		if cfg.SigningSecret == "" {
			return errors.New("SIGNING_SECRET is required in prod run mode")
		}
		if cfg.WebhookAPIKey == "" {
			return errors.New("WEBHOOK_API_KEY is required in prod run mode")
		}
	}
	return nil
}

// IsProduction reports whether the service runs with production hardening.
func (cfg *AppConfig) IsProduction() bool {
	return cfg.RunMode == "prod"
}

func overrideString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideInt(target *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer for %s: %q", key, v)
	}
	*target = n
	return nil
}

func overrideDuration(target *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %q", key, v)
	}
	*target = d
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
