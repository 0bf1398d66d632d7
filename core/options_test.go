package core

import (
	"context"
	"errors"
	"testing"
)

type fixedConfigProvider struct {
	cfg Config
	err error
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, p.err
}

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := ResolveConfig(context.Background(), Config{}, nil, nil)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "integrations" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.OAuth.TokenLifetime != 3600 || cfg.OAuth.RefreshTokenLifetime != 30 {
		t.Fatalf("unexpected oauth defaults: %+v", cfg.OAuth)
	}
	if cfg.Webhooks.MaxRetries != 3 || cfg.Webhooks.Timeout != 30 || cfg.Webhooks.DisableAfterFailures != 10 {
		t.Fatalf("unexpected webhook defaults: %+v", cfg.Webhooks)
	}
}

func TestResolveConfig_LoadedValuesOverrideDefaults(t *testing.T) {
	provider := NewCfgxConfigProvider(StaticConfigLoader{Values: map[string]any{
		"oauth": map[string]any{
			"token_lifetime": 900,
		},
		"webhooks": map[string]any{
			"max_retries":            5,
			"disable_after_failures": 20,
		},
	}})
	cfg, err := ResolveConfig(context.Background(), Config{}, provider, nil)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.OAuth.TokenLifetime != 900 {
		t.Fatalf("expected loaded token lifetime 900, got %d", cfg.OAuth.TokenLifetime)
	}
	if cfg.OAuth.RefreshTokenLifetime != 30 {
		t.Fatalf("expected default refresh lifetime to survive, got %d", cfg.OAuth.RefreshTokenLifetime)
	}
	if cfg.Webhooks.MaxRetries != 5 || cfg.Webhooks.DisableAfterFailures != 20 {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhooks)
	}
}

func TestResolveConfig_RuntimeWinsOverLoaded(t *testing.T) {
	provider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider", Webhooks: WebhookConfig{MaxRetries: 7}}}
	cfg, err := ResolveConfig(context.Background(), Config{ServiceName: "runtime"}, provider, nil)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "runtime" {
		t.Fatalf("expected runtime service name, got %q", cfg.ServiceName)
	}
	if cfg.Webhooks.MaxRetries != 7 {
		t.Fatalf("expected provider max retries 7, got %d", cfg.Webhooks.MaxRetries)
	}
}

func TestResolveConfig_ProviderError(t *testing.T) {
	sentinel := errors.New("boom")
	_, err := ResolveConfig(context.Background(), Config{}, &fixedConfigProvider{err: sentinel}, nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected provider error to propagate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Webhooks.FailingAfterFailures = 12
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected failing threshold above disable threshold to be rejected")
	}
	cfg = DefaultConfig()
	cfg.ServiceName = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected empty service name to be rejected")
	}
}

func TestOAuthConfigDurations(t *testing.T) {
	cfg := OAuthConfig{}
	if cfg.AccessTokenTTL().Seconds() != 3600 {
		t.Fatalf("expected default access ttl, got %s", cfg.AccessTokenTTL())
	}
	if cfg.RefreshTokenTTL().Hours() != 30*24 {
		t.Fatalf("expected 30 day refresh ttl, got %s", cfg.RefreshTokenTTL())
	}
	if cfg.CodeTTL().Seconds() != 600 {
		t.Fatalf("expected 600s code ttl, got %s", cfg.CodeTTL())
	}
}
