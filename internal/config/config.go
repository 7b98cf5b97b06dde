// Package config loads the service configuration from a YAML file and
// PAYMENTS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yourorg/card-orchestrator/internal/callctx"
	"github.com/yourorg/card-orchestrator/internal/policy"
	"github.com/yourorg/card-orchestrator/internal/processor/circuitbreaker"
)

// EnvPrefix is prepended to every environment override, e.g.
// PAYMENTS_GATEWAY_TRANSACTION_KEY for gateway.transaction_key.
const EnvPrefix = "PAYMENTS"

// Config is the service configuration. It is built once at startup and
// treated as read-only afterwards.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Log            LogConfig            `mapstructure:"log"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
	Events         EventsConfig         `mapstructure:"events"`
	Idempotency    IdempotencyConfig    `mapstructure:"idempotency"`
	Orchestrator   OrchestratorConfig   `mapstructure:"orchestrator"`
	Policy         PolicyConfig         `mapstructure:"policy"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GatewayConfig selects the card gateway and the merchant's credentials.
type GatewayConfig struct {
	Provider       string                `mapstructure:"provider"` // mock or authorizenet
	Environment    string                `mapstructure:"environment"`
	MerchantID     string                `mapstructure:"merchant_id"`
	LoginID        string                `mapstructure:"login_id"`
	TransactionKey string                `mapstructure:"transaction_key"`
	Endpoint       string                `mapstructure:"endpoint"` // overrides the environment's URL
	Timeout        time.Duration         `mapstructure:"timeout"`
	Breaker        circuitbreaker.Config `mapstructure:"breaker"`
}

type LedgerConfig struct {
	Driver      string `mapstructure:"driver"` // memory or postgres
	PostgresURL string `mapstructure:"postgres_url"`
	Migrate     bool   `mapstructure:"migrate"`
}

type EventsConfig struct {
	Driver  string   `mapstructure:"driver"` // none or kafka
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type IdempotencyConfig struct {
	Driver    string        `mapstructure:"driver"` // none, memory or redis
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type OrchestratorConfig struct {
	SerializeByReference bool `mapstructure:"serialize_by_reference"`
	EnforceLifecycle     bool `mapstructure:"enforce_lifecycle"`
}

type PolicyConfig struct {
	Rules []policy.PolicyRule `mapstructure:"rules"`
}

type ReconciliationConfig struct {
	// Interval between background stale-pending scans; zero disables them.
	Interval         time.Duration `mapstructure:"interval"`
	PendingThreshold time.Duration `mapstructure:"pending_threshold"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("gateway.provider", "mock")
	v.SetDefault("gateway.environment", string(callctx.Sandbox))
	v.SetDefault("gateway.merchant_id", "default")
	v.SetDefault("gateway.login_id", "")
	v.SetDefault("gateway.transaction_key", "")
	v.SetDefault("gateway.endpoint", "")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.breaker.failure_threshold", 5)
	v.SetDefault("gateway.breaker.reset_timeout", 30*time.Second)
	v.SetDefault("gateway.breaker.half_open_requests", 1)

	v.SetDefault("ledger.driver", "memory")
	v.SetDefault("ledger.postgres_url", "")
	v.SetDefault("ledger.migrate", true)

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "payments.transactions")

	v.SetDefault("idempotency.driver", "memory")
	v.SetDefault("idempotency.redis_addr", "")
	v.SetDefault("idempotency.ttl", 24*time.Hour)

	v.SetDefault("orchestrator.serialize_by_reference", true)
	v.SetDefault("orchestrator.enforce_lifecycle", true)

	v.SetDefault("reconciliation.interval", time.Duration(0))
	v.SetDefault("reconciliation.pending_threshold", 15*time.Minute)

	v.SetDefault("tracing.enabled", false)
}

// Load reads path (if not empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}

	switch c.Gateway.Provider {
	case "mock":
	case "authorizenet":
		if c.Gateway.LoginID == "" || c.Gateway.TransactionKey == "" {
			add("gateway.login_id and gateway.transaction_key are required for authorizenet")
		}
	default:
		add("gateway.provider %q: want mock or authorizenet", c.Gateway.Provider)
	}
	switch strings.ToLower(c.Gateway.Environment) {
	case string(callctx.Sandbox), string(callctx.Production):
	default:
		add("gateway.environment %q: want sandbox or production", c.Gateway.Environment)
	}
	if c.Gateway.Timeout <= 0 {
		add("gateway.timeout must be positive")
	}

	switch c.Ledger.Driver {
	case "memory":
	case "postgres":
		if c.Ledger.PostgresURL == "" {
			add("ledger.postgres_url is required for the postgres driver")
		}
	default:
		add("ledger.driver %q: want memory or postgres", c.Ledger.Driver)
	}

	switch c.Events.Driver {
	case "none":
	case "kafka":
		if len(c.Events.Brokers) == 0 || c.Events.Topic == "" {
			add("events.brokers and events.topic are required for the kafka driver")
		}
	default:
		add("events.driver %q: want none or kafka", c.Events.Driver)
	}

	switch c.Idempotency.Driver {
	case "none":
	case "memory", "redis":
		if c.Idempotency.Driver == "redis" && c.Idempotency.RedisAddr == "" {
			add("idempotency.redis_addr is required for the redis driver")
		}
		if c.Idempotency.TTL <= 0 {
			add("idempotency.ttl must be positive")
		}
	default:
		add("idempotency.driver %q: want none, memory or redis", c.Idempotency.Driver)
	}

	if c.Reconciliation.PendingThreshold <= 0 {
		add("reconciliation.pending_threshold must be positive")
	}

	seen := make(map[string]bool, len(c.Policy.Rules))
	for _, r := range c.Policy.Rules {
		if r.ID == "" {
			add("policy rule with expression %q has no id", r.Expression)
			continue
		}
		if seen[r.ID] {
			add("policy rule id %q is duplicated", r.ID)
		}
		seen[r.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Merchant returns the merchant identity and credentials handed to gateway calls.
func (c *Config) Merchant() callctx.Merchant {
	return callctx.Merchant{
		ID:          c.Gateway.MerchantID,
		Provider:    c.Gateway.Provider,
		Environment: callctx.ParseEnvironment(c.Gateway.Environment),
		Credentials: callctx.Credentials{
			LoginID:        c.Gateway.LoginID,
			TransactionKey: c.Gateway.TransactionKey,
		},
	}
}
