package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	BotUsername string           `koanf:"bot_username" mapstructure:"bot_username"`
	HTTP        HTTPConfig       `koanf:"http" mapstructure:"http"`
	Webhook     WebhookConfig    `koanf:"webhook" mapstructure:"webhook"`
	Payment     PaymentConfig    `koanf:"payment" mapstructure:"payment"`
	RateLimit   RateLimitConfig  `koanf:"ratelimit" mapstructure:"ratelimit"`
	Bounty      BountyConfig     `koanf:"bounty" mapstructure:"bounty"`
	Submission  SubmissionConfig `koanf:"submission" mapstructure:"submission"`
	Database    DatabaseConfig   `koanf:"database" mapstructure:"database"`
	GitHub      GitHubConfig     `koanf:"github" mapstructure:"github"`
	Stripe      StripeConfig     `koanf:"stripe" mapstructure:"stripe"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type WebhookConfig struct {
	Secret       string `koanf:"secret" mapstructure:"secret"`
	MaxBodyBytes int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	DeliveryTTL  string `koanf:"delivery_ttl" mapstructure:"delivery_ttl"`
}

type PaymentConfig struct {
	LockTTL         string `koanf:"lock_ttl" mapstructure:"lock_ttl"`
	LockMaxRetries  int    `koanf:"lock_max_retries" mapstructure:"lock_max_retries"`
	LockRetryDelay  string `koanf:"lock_retry_delay" mapstructure:"lock_retry_delay"`
	LedgerTTL       string `koanf:"ledger_ttl" mapstructure:"ledger_ttl"`
	PermanentLedger bool   `koanf:"permanent_ledger" mapstructure:"permanent_ledger"`
}

type RateLimitPolicyConfig struct {
	Requests int    `koanf:"requests" mapstructure:"requests"`
	Window   string `koanf:"window" mapstructure:"window"`
}

type RateLimitConfig struct {
	Policies map[string]RateLimitPolicyConfig `koanf:"policies" mapstructure:"policies"`
}

type BountyConfig struct {
	MaxAmount  string   `koanf:"max_amount" mapstructure:"max_amount"`
	Currencies []string `koanf:"currencies" mapstructure:"currencies"`
}

type SubmissionConfig struct {
	MaxPendingPerContributor int `koanf:"max_pending_per_contributor" mapstructure:"max_pending_per_contributor"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type GitHubConfig struct {
	BaseURL        string `koanf:"base_url" mapstructure:"base_url"`
	Token          string `koanf:"token" mapstructure:"token"`
	AppID          int64  `koanf:"app_id" mapstructure:"app_id"`
	InstallationID int64  `koanf:"installation_id" mapstructure:"installation_id"`
	PrivateKeyPath string `koanf:"private_key_path" mapstructure:"private_key_path"`
	PermissionTTL  string `koanf:"permission_ttl" mapstructure:"permission_ttl"`
}

type StripeConfig struct {
	SecretKey string `koanf:"secret_key" mapstructure:"secret_key"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "bounties",
		BotUsername: "bountybot",
		HTTP:        HTTPConfig{Addr: ":8080"},
		Webhook: WebhookConfig{
			MaxBodyBytes: 25 << 20,
			DeliveryTTL:  "72h",
		},
		Payment: PaymentConfig{
			LockTTL:         "30s",
			LockMaxRetries:  3,
			LockRetryDelay:  "100ms",
			LedgerTTL:       "24h",
			PermanentLedger: true,
		},
		RateLimit: RateLimitConfig{
			Policies: map[string]RateLimitPolicyConfig{
				"bounty:create":  {Requests: 5, Window: "1m"},
				"payment:verify": {Requests: 10, Window: "1m"},
				"command":        {Requests: 30, Window: "1m"},
				"global":         {Requests: 60, Window: "1m"},
			},
		},
		Bounty: BountyConfig{
			MaxAmount:  DefaultMaxAmount.String(),
			Currencies: append([]string(nil), DefaultCurrencies...),
		},
		Submission: SubmissionConfig{MaxPendingPerContributor: 2},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:bounties.db?cache=shared&_foreign_keys=on",
		},
		GitHub: GitHubConfig{
			BaseURL:       "https://api.github.com",
			PermissionTTL: "1m",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.BotUsername) == "" {
		return fmt.Errorf("core: bot_username is required")
	}
	for name, raw := range map[string]string{
		"webhook.delivery_ttl":     c.Webhook.DeliveryTTL,
		"payment.lock_ttl":         c.Payment.LockTTL,
		"payment.lock_retry_delay": c.Payment.LockRetryDelay,
		"payment.ledger_ttl":       c.Payment.LedgerTTL,
		"github.permission_ttl":    c.GitHub.PermissionTTL,
	} {
		if _, err := parseOptionalDuration(raw); err != nil {
			return fmt.Errorf("core: %s: %w", name, err)
		}
	}
	if c.Payment.LockMaxRetries < 0 {
		return fmt.Errorf("core: payment.lock_max_retries must not be negative")
	}
	for op, policy := range c.RateLimit.Policies {
		if policy.Requests <= 0 {
			return fmt.Errorf("core: ratelimit.policies.%s.requests must be positive", op)
		}
		window, err := parseOptionalDuration(policy.Window)
		if err != nil || window <= 0 {
			return fmt.Errorf("core: ratelimit.policies.%s.window is invalid", op)
		}
	}
	if raw := strings.TrimSpace(c.Bounty.MaxAmount); raw != "" {
		value, err := decimal.NewFromString(raw)
		if err != nil || !value.IsPositive() {
			return fmt.Errorf("core: bounty.max_amount is invalid")
		}
	}
	if c.Submission.MaxPendingPerContributor < 0 {
		return fmt.Errorf("core: submission.max_pending_per_contributor must not be negative")
	}
	return nil
}

func (c Config) LockTTL() time.Duration {
	return durationOr(c.Payment.LockTTL, 30*time.Second)
}

func (c Config) LockRetryDelay() time.Duration {
	return durationOr(c.Payment.LockRetryDelay, 100*time.Millisecond)
}

func (c Config) LedgerTTL() time.Duration {
	return durationOr(c.Payment.LedgerTTL, 24*time.Hour)
}

func (c Config) DeliveryTTL() time.Duration {
	return durationOr(c.Webhook.DeliveryTTL, 72*time.Hour)
}

func (c Config) PermissionTTL() time.Duration {
	return durationOr(c.GitHub.PermissionTTL, time.Minute)
}

func (c Config) MoneyLimits() MoneyLimits {
	limits := DefaultMoneyLimits()
	if value, err := decimal.NewFromString(strings.TrimSpace(c.Bounty.MaxAmount)); err == nil && value.IsPositive() {
		limits.Max = value
	}
	if len(c.Bounty.Currencies) > 0 {
		limits.Currencies = make([]string, 0, len(c.Bounty.Currencies))
		for _, currency := range c.Bounty.Currencies {
			if trimmed := strings.ToUpper(strings.TrimSpace(currency)); trimmed != "" {
				limits.Currencies = append(limits.Currencies, trimmed)
			}
		}
	}
	return limits
}

// ParsePolicyWindow parses a rate limit window, falling back to one minute.
func ParsePolicyWindow(raw string) time.Duration {
	return durationOr(raw, time.Minute)
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	value, err := parseOptionalDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return value, nil
}
