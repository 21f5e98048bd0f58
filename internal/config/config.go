package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type NotifyBackend string

const (
	NotifyLocal    NotifyBackend = "local"
	NotifyPostgres NotifyBackend = "postgres"
	NotifyRedis    NotifyBackend = "redis"
)

type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	HTTPAddr    string `mapstructure:"http_addr"`
	GRPCAddr    string `mapstructure:"grpc_addr"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	LogLevel    string `mapstructure:"log_level"`
	LogPretty   bool   `mapstructure:"log_pretty"`

	ProviderAPIURL       string        `mapstructure:"provider_api_url"`
	ProviderAuthURL      string        `mapstructure:"provider_auth_url"`
	ProviderClientID     string        `mapstructure:"provider_client_id"`
	ProviderClientSecret string        `mapstructure:"provider_client_secret"`
	ProviderRedirectURL  string        `mapstructure:"provider_redirect_url"`
	ProviderTimeout      time.Duration `mapstructure:"provider_timeout"`
	ProviderRPS          float64       `mapstructure:"provider_rps"`

	WebhookSigningKey    string        `mapstructure:"webhook_signing_key"`
	WebhookAllowUnsigned bool          `mapstructure:"webhook_allow_unsigned"`
	WebhookTolerance     time.Duration `mapstructure:"webhook_tolerance"`

	PublicBaseURL   string `mapstructure:"public_base_url"`
	OAuthSuccessURL string `mapstructure:"oauth_success_url"`
	OAuthErrorURL   string `mapstructure:"oauth_error_url"`

	// TokenEncryptionKey is a base64 32-byte key; empty stores tokens as-is.
	TokenEncryptionKey string `mapstructure:"token_encryption_key"`

	NotifyBackend NotifyBackend `mapstructure:"notify_backend"`
	RedisURL      string        `mapstructure:"redis_url"`

	// SweepSchedule is a cron spec; empty disables scheduled sweeps.
	SweepSchedule string `mapstructure:"sweep_schedule"`

	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

var defaults = map[string]any{
	"database_url":           "",
	"http_addr":              ":8080",
	"grpc_addr":              ":50051",
	"jwt_secret":             "",
	"log_level":              "info",
	"log_pretty":             false,
	"provider_api_url":       "https://api.calendly.com",
	"provider_auth_url":      "https://auth.calendly.com",
	"provider_client_id":     "",
	"provider_client_secret": "",
	"provider_redirect_url":  "http://localhost:8080/oauth/callback",
	"provider_timeout":       "15s",
	"provider_rps":           5,
	"webhook_signing_key":    "",
	"webhook_allow_unsigned": false,
	"webhook_tolerance":      "3m",
	"public_base_url":        "http://localhost:8080",
	"oauth_success_url":      "/",
	"oauth_error_url":        "/",
	"token_encryption_key":   "",
	"notify_backend":         string(NotifyLocal),
	"redis_url":              "",
	"sweep_schedule":         "",
	"rate_limit_rps":         5,
	"rate_limit_burst":       10,
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.NotifyBackend {
	case NotifyLocal:
	case NotifyPostgres:
		if c.DatabaseURL == "" {
			return errors.New("NOTIFY_BACKEND=postgres needs DATABASE_URL")
		}
	case NotifyRedis:
		if c.RedisURL == "" {
			return errors.New("NOTIFY_BACKEND=redis needs REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_BACKEND %q", c.NotifyBackend)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// RequireSecret is checked by commands that issue or verify user tokens.
func (c Config) RequireSecret() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}
