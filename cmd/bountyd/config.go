package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-bounties/core"
	"github.com/spf13/viper"
)

const envPrefix = "BOUNTIES"

// envKeys are the string settings that may come from BOUNTIES_* variables,
// e.g. BOUNTIES_WEBHOOK_SECRET or BOUNTIES_DATABASE_DSN.
var envKeys = []string{
	"service_name",
	"bot_username",
	"http.addr",
	"webhook.secret",
	"database.driver",
	"database.dsn",
	"github.base_url",
	"github.token",
	"github.private_key_path",
	"stripe.secret_key",
}

// viperLoader reads an optional config file plus the environment and hands
// the raw tree to the cfgx config provider.
type viperLoader struct {
	file string
}

func (l viperLoader) LoadRaw(context.Context) (map[string]any, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if file := strings.TrimSpace(l.file); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v.AllSettings(), nil
}

// loadConfig layers defaults, the config file and environment, then the
// command line overrides.
func loadConfig(ctx context.Context, opts *rootOptions) (core.Config, error) {
	runtime := core.Config{
		HTTP: core.HTTPConfig{Addr: strings.TrimSpace(opts.httpAddr)},
		Database: core.DatabaseConfig{
			Driver: strings.TrimSpace(opts.databaseDriver),
			DSN:    strings.TrimSpace(opts.databaseDSN),
		},
	}
	cfg, err := core.LoadConfig(ctx, core.NewCfgxConfigProvider(viperLoader{file: opts.configFile}), core.GoOptionsResolver{}, runtime)
	if err != nil {
		return core.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
