// --- File: notifyservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// --- YAML-Specific Structs ---

type YamlDatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	PoolSize int    `yaml:"pool_size"`
}

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlRateLimitConfig struct {
	Window  string `yaml:"window"`
	Ceiling int    `yaml:"ceiling"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml
// file.
type YamlConfig struct {
	RunMode         string              `yaml:"run_mode"`
	APIPort         string              `yaml:"api_port"`
	WebSocketPort   string              `yaml:"websocket_port"`
	SigningSecret   string              `yaml:"signing_secret"`
	TokenTTL        string              `yaml:"token_ttl"`
	WebhookAPIKey   string              `yaml:"webhook_api_key"`
	Database        YamlDatabaseConfig  `yaml:"database"`
	Redis           YamlRedisConfig     `yaml:"redis"`
	HTTPRateLimit   YamlRateLimitConfig `yaml:"http_rate_limit"`
	SocketRateLimit YamlRateLimitConfig `yaml:"socket_rate_limit"`
	Cors            YamlCorsConfig      `yaml:"cors"`
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data into a clean, base
// AppConfig struct. Stage 1 complete: the AppConfig exists, but without
// environment overrides or final validation.
func NewConfigFromYaml(yamlCfg *YamlConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Mapping YAML config to base config struct")

	tokenTTL, err := parseDurationOrZero(yamlCfg.TokenTTL, "token_ttl")
	if err != nil {
		return nil, err
	}
	httpWindow, err := parseDurationOrZero(yamlCfg.HTTPRateLimit.Window, "http_rate_limit.window")
	if err != nil {
		return nil, err
	}
	socketWindow, err := parseDurationOrZero(yamlCfg.SocketRateLimit.Window, "socket_rate_limit.window")
	if err != nil {
		return nil, err
	}

	appCfg := &AppConfig{
		RunMode:       yamlCfg.RunMode,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		SigningSecret: yamlCfg.SigningSecret,
		TokenTTL:      tokenTTL,
		WebhookAPIKey: yamlCfg.WebhookAPIKey,
		Database:      yamlCfg.Database,
		Redis:         yamlCfg.Redis,
		HTTPRateLimit: RateLimitConfig{
			Window:  httpWindow,
			Ceiling: yamlCfg.HTTPRateLimit.Ceiling,
		},
		SocketRateLimit: RateLimitConfig{
			Window:  socketWindow,
			Ceiling: yamlCfg.SocketRateLimit.Ceiling,
		},
		AllowedOrigins: yamlCfg.Cors.AllowedOrigins,
	}

	logger.Debug().
		Str("run_mode", appCfg.RunMode).
		Str("api_port", appCfg.APIPort).
		Str("websocket_port", appCfg.WebSocketPort).
		Msg("YAML config mapping complete")

	return appCfg, nil
}

func parseDurationOrZero(raw, key string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, raw)
	}
	return d, nil
}
