package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticConfigLoader serves a fixed raw map, typically decoded from a file or
// environment by the host application.
type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig layers defaults, provider-loaded values, and runtime
// overrides. Nil provider or resolver fall back to cfgx and go-options.
func ResolveConfig(ctx context.Context, runtime Config, provider ConfigProvider, resolver OptionsResolver) (Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, fmt.Errorf("core: load config: %w", err)
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	oauth := map[string]any{}
	putInt(oauth, "token_lifetime", cfg.OAuth.TokenLifetime, includeZero)
	putInt(oauth, "refresh_token_lifetime", cfg.OAuth.RefreshTokenLifetime, includeZero)
	putInt(oauth, "code_lifetime", cfg.OAuth.CodeLifetime, includeZero)
	putString(oauth, "server_secret", cfg.OAuth.ServerSecret, includeZero)
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	webhooks := map[string]any{}
	putInt(webhooks, "max_retries", cfg.Webhooks.MaxRetries, includeZero)
	putInt(webhooks, "timeout", cfg.Webhooks.Timeout, includeZero)
	putInt(webhooks, "disable_after_failures", cfg.Webhooks.DisableAfterFailures, includeZero)
	putInt(webhooks, "failing_after_failures", cfg.Webhooks.FailingAfterFailures, includeZero)
	putString(webhooks, "user_agent", cfg.Webhooks.UserAgent, includeZero)
	putString(webhooks, "header_prefix", cfg.Webhooks.HeaderPrefix, includeZero)
	if len(webhooks) > 0 {
		layer["webhooks"] = webhooks
	}

	ratelimit := map[string]any{}
	putString(ratelimit, "key_prefix", cfg.RateLimit.KeyPrefix, includeZero)
	if len(ratelimit) > 0 {
		layer["ratelimit"] = ratelimit
	}

	storage := map[string]any{}
	putString(storage, "driver", cfg.Storage.Driver, includeZero)
	putString(storage, "dsn", cfg.Storage.DSN, includeZero)
	putString(storage, "redis_addr", cfg.Storage.RedisAddr, includeZero)
	putInt(storage, "ping_timeout", cfg.Storage.PingTimeout, includeZero)
	if includeZero || cfg.Storage.Debug {
		storage["debug"] = cfg.Storage.Debug
	}
	if len(storage) > 0 {
		layer["storage"] = storage
	}

	secrets := map[string]any{}
	putString(secrets, "app_key", cfg.Secrets.AppKey, includeZero)
	putString(secrets, "key_id", cfg.Secrets.KeyID, includeZero)
	if len(secrets) > 0 {
		layer["secrets"] = secrets
	}
	return layer
}

func putInt(target map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		target[key] = value
	}
}

func putString(target map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		target[key] = value
	}
}
