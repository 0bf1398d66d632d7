package core

import (
	"fmt"
	"strings"
	"time"
)

type OAuthConfig struct {
	// TokenLifetime is the access token lifetime in seconds.
	TokenLifetime int `koanf:"token_lifetime" mapstructure:"token_lifetime"`
	// RefreshTokenLifetime is the refresh token lifetime in days.
	RefreshTokenLifetime int    `koanf:"refresh_token_lifetime" mapstructure:"refresh_token_lifetime"`
	CodeLifetime         int    `koanf:"code_lifetime" mapstructure:"code_lifetime"`
	ServerSecret         string `koanf:"server_secret" mapstructure:"server_secret"`
}

type WebhookConfig struct {
	MaxRetries           int    `koanf:"max_retries" mapstructure:"max_retries"`
	Timeout              int    `koanf:"timeout" mapstructure:"timeout"`
	DisableAfterFailures int    `koanf:"disable_after_failures" mapstructure:"disable_after_failures"`
	FailingAfterFailures int    `koanf:"failing_after_failures" mapstructure:"failing_after_failures"`
	UserAgent            string `koanf:"user_agent" mapstructure:"user_agent"`
	HeaderPrefix         string `koanf:"header_prefix" mapstructure:"header_prefix"`
}

type RateLimitConfig struct {
	KeyPrefix string `koanf:"key_prefix" mapstructure:"key_prefix"`
}

// StorageConfig selects the backing store. Driver is one of memory, redis,
// sqlite3 or postgres.
type StorageConfig struct {
	Driver      string `koanf:"driver" mapstructure:"driver"`
	DSN         string `koanf:"dsn" mapstructure:"dsn"`
	RedisAddr   string `koanf:"redis_addr" mapstructure:"redis_addr"`
	PingTimeout int    `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	Debug       bool   `koanf:"debug" mapstructure:"debug"`
}

// SecretsConfig holds the base64 app key used to encrypt webhook secrets at
// rest.
type SecretsConfig struct {
	AppKey string `koanf:"app_key" mapstructure:"app_key"`
	KeyID  string `koanf:"key_id" mapstructure:"key_id"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig     `koanf:"oauth" mapstructure:"oauth"`
	Webhooks    WebhookConfig   `koanf:"webhooks" mapstructure:"webhooks"`
	RateLimit   RateLimitConfig `koanf:"ratelimit" mapstructure:"ratelimit"`
	Storage     StorageConfig   `koanf:"storage" mapstructure:"storage"`
	Secrets     SecretsConfig   `koanf:"secrets" mapstructure:"secrets"`
}

const (
	DefaultTokenLifetimeSeconds    = 3600
	DefaultRefreshTokenLifetimeDay = 30
	DefaultCodeLifetimeSeconds     = 600
	DefaultWebhookMaxRetries       = 3
	DefaultWebhookTimeoutSeconds   = 30
	DefaultDisableAfterFailures    = 10
	DefaultFailingAfterFailures    = 3
	DefaultWebhookUserAgent        = "Integrations-Webhook/1.0"
	DefaultWebhookHeaderPrefix     = "X-Integrations"
	DefaultRateLimitKeyPrefix      = "ratelimit"
	DefaultStorageDriver           = StorageDriverMemory
	DefaultPingTimeoutSeconds      = 5
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverRedis    = "redis"
	StorageDriverSQLite   = "sqlite3"
	StorageDriverPostgres = "postgres"
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "integrations",
		OAuth: OAuthConfig{
			TokenLifetime:        DefaultTokenLifetimeSeconds,
			RefreshTokenLifetime: DefaultRefreshTokenLifetimeDay,
			CodeLifetime:         DefaultCodeLifetimeSeconds,
		},
		Webhooks: WebhookConfig{
			MaxRetries:           DefaultWebhookMaxRetries,
			Timeout:              DefaultWebhookTimeoutSeconds,
			DisableAfterFailures: DefaultDisableAfterFailures,
			FailingAfterFailures: DefaultFailingAfterFailures,
			UserAgent:            DefaultWebhookUserAgent,
			HeaderPrefix:         DefaultWebhookHeaderPrefix,
		},
		RateLimit: RateLimitConfig{
			KeyPrefix: DefaultRateLimitKeyPrefix,
		},
		Storage: StorageConfig{
			Driver:      DefaultStorageDriver,
			PingTimeout: DefaultPingTimeoutSeconds,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.OAuth.TokenLifetime < 0 || c.OAuth.RefreshTokenLifetime < 0 || c.OAuth.CodeLifetime < 0 {
		return fmt.Errorf("core: oauth lifetimes must not be negative")
	}
	if c.Webhooks.MaxRetries < 0 {
		return fmt.Errorf("core: webhooks.max_retries must not be negative")
	}
	if c.Webhooks.Timeout < 0 {
		return fmt.Errorf("core: webhooks.timeout must not be negative")
	}
	if c.Webhooks.DisableAfterFailures > 0 && c.Webhooks.FailingAfterFailures > c.Webhooks.DisableAfterFailures {
		return fmt.Errorf("core: webhooks.failing_after_failures must not exceed disable_after_failures")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", StorageDriverMemory:
	case StorageDriverRedis:
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return fmt.Errorf("core: storage.redis_addr is required for the redis driver")
		}
	case StorageDriverSQLite, StorageDriverPostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("core: storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("core: unsupported storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// AccessTokenTTL falls back to the default lifetime when unset.
func (c OAuthConfig) AccessTokenTTL() time.Duration {
	return secondsOrDefault(c.TokenLifetime, DefaultTokenLifetimeSeconds)
}

func (c OAuthConfig) RefreshTokenTTL() time.Duration {
	days := c.RefreshTokenLifetime
	if days <= 0 {
		days = DefaultRefreshTokenLifetimeDay
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c OAuthConfig) CodeTTL() time.Duration {
	return secondsOrDefault(c.CodeLifetime, DefaultCodeLifetimeSeconds)
}

func (c WebhookConfig) RequestTimeout() time.Duration {
	return secondsOrDefault(c.Timeout, DefaultWebhookTimeoutSeconds)
}

func secondsOrDefault(value int, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}

func (c StorageConfig) PingTimeoutDuration() time.Duration {
	return secondsOrDefault(c.PingTimeout, DefaultPingTimeoutSeconds)
}
