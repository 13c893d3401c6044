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

// StaticRawConfigLoader serves a fixed map, mostly for tests and embedding.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
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
		loader = StaticRawConfigLoader{}
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

// LoadConfig loads configuration through provider and layers runtime
// overrides on top with resolver.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setInt := func(target map[string]any, key string, value int64) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	setBool := func(target map[string]any, key string, value bool) {
		if includeZero || value {
			target[key] = value
		}
	}
	nested := func(key string, build func(map[string]any)) {
		section := map[string]any{}
		build(section)
		if includeZero || len(section) > 0 {
			layer[key] = section
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "bot_username", cfg.BotUsername)
	nested("http", func(m map[string]any) {
		setString(m, "addr", cfg.HTTP.Addr)
	})
	nested("webhook", func(m map[string]any) {
		setString(m, "secret", cfg.Webhook.Secret)
		setInt(m, "max_body_bytes", cfg.Webhook.MaxBodyBytes)
		setString(m, "delivery_ttl", cfg.Webhook.DeliveryTTL)
	})
	nested("payment", func(m map[string]any) {
		setString(m, "lock_ttl", cfg.Payment.LockTTL)
		setInt(m, "lock_max_retries", int64(cfg.Payment.LockMaxRetries))
		setString(m, "lock_retry_delay", cfg.Payment.LockRetryDelay)
		setString(m, "ledger_ttl", cfg.Payment.LedgerTTL)
		setBool(m, "permanent_ledger", cfg.Payment.PermanentLedger)
	})
	if includeZero || len(cfg.RateLimit.Policies) > 0 {
		policies := make(map[string]any, len(cfg.RateLimit.Policies))
		for op, policy := range cfg.RateLimit.Policies {
			policies[op] = map[string]any{
				"requests": policy.Requests,
				"window":   policy.Window,
			}
		}
		layer["ratelimit"] = map[string]any{"policies": policies}
	}
	nested("bounty", func(m map[string]any) {
		setString(m, "max_amount", cfg.Bounty.MaxAmount)
		if includeZero || len(cfg.Bounty.Currencies) > 0 {
			m["currencies"] = append([]string(nil), cfg.Bounty.Currencies...)
		}
	})
	nested("submission", func(m map[string]any) {
		setInt(m, "max_pending_per_contributor", int64(cfg.Submission.MaxPendingPerContributor))
	})
	nested("database", func(m map[string]any) {
		setString(m, "driver", cfg.Database.Driver)
		setString(m, "dsn", cfg.Database.DSN)
		setBool(m, "debug", cfg.Database.Debug)
	})
	nested("github", func(m map[string]any) {
		setString(m, "base_url", cfg.GitHub.BaseURL)
		setString(m, "token", cfg.GitHub.Token)
		setInt(m, "app_id", cfg.GitHub.AppID)
		setInt(m, "installation_id", cfg.GitHub.InstallationID)
		setString(m, "private_key_path", cfg.GitHub.PrivateKeyPath)
		setString(m, "permission_ttl", cfg.GitHub.PermissionTTL)
	})
	nested("stripe", func(m map[string]any) {
		setString(m, "secret_key", cfg.Stripe.SecretKey)
	})
	return layer
}
