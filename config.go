package pitchiq

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names understood by Config.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenAIChat = "openai-chat"
	ProviderGrok       = "grok"
	ProviderCerebras   = "cerebras"
	ProviderGemini     = "gemini"
)

// Quota backends understood by Config.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the top-level service configuration. TrustedProxies lists the
// proxy IPs or CIDRs allowed to set X-Forwarded-For; empty trusts none.
type Config struct {
	ServiceName    string            `yaml:"service_name"`
	ListenAddr     string            `yaml:"listen_addr"`
	TrustedProxies []string          `yaml:"trusted_proxies"`
	Provider       ProviderConfig    `yaml:"provider"`
	Quota          QuotaConfig       `yaml:"quota"`
	StrictSchema   bool              `yaml:"strict_schema"`
	Logging        LoggingConfig     `yaml:"logging"`
	Throttle       ThrottleConfig    `yaml:"throttle"`
	Concurrency    ConcurrencyConfig `yaml:"concurrency"`
}

// ProviderConfig selects and configures the text-generation API.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Auth    Auth          `yaml:",inline"`
	Timeout time.Duration `yaml:"timeout"`
}

// QuotaConfig selects the usage store.
type QuotaConfig struct {
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the Redis usage store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig configures the PostgreSQL usage store.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	TablePrefix string `yaml:"table_prefix"`
}

// LoggingConfig configures log level, format and optional file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ThrottleConfig configures the per-client inbound token bucket.
type ThrottleConfig struct {
	Enabled bool          `yaml:"enabled"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// ConcurrencyConfig caps simultaneous predictions. Max 0 means unlimited.
type ConcurrencyConfig struct {
	Max            int           `yaml:"max"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		ServiceName: "PitchIQ",
		ListenAddr:  ":8000",
		Provider: ProviderConfig{
			Name:    ProviderOpenAI,
			Model:   DefaultModel,
			Timeout: DefaultTimeout,
		},
		Quota: QuotaConfig{
			Backend: BackendMemory,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Throttle: ThrottleConfig{
			RPS:     1,
			Burst:   5,
			IdleTTL: 15 * time.Minute,
		},
	}
}

// LoadConfig reads and parses a YAML config file on top of DefaultConfig.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("pitchiq: read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("pitchiq: parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv fills unset values from the process environment.
func (c *Config) applyEnv() {
	if c.Provider.Auth.APIKey == "" {
		c.Provider.Auth.APIKey = os.Getenv(apiKeyEnv(c.Provider.Name))
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

func apiKeyEnv(provider string) string {
	switch provider {
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderGrok:
		return "XAI_API_KEY"
	case ProviderCerebras:
		return "CEREBRAS_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// Validate checks the config for required fields and consistency.
// A missing API key is not an error: calls fail upstream instead.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("pitchiq: config: service_name is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("pitchiq: config: listen_addr is required")
	}

	switch c.Provider.Name {
	case ProviderOpenAI, ProviderOpenAIChat, ProviderGrok, ProviderCerebras, ProviderGemini:
	case "":
		return fmt.Errorf("pitchiq: config: provider.name is required")
	default:
		return fmt.Errorf("pitchiq: config: unknown provider %q", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("pitchiq: config: provider.model is required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("pitchiq: config: provider.timeout must be > 0")
	}

	switch c.Quota.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Quota.Redis.Addr == "" {
			return fmt.Errorf("pitchiq: config: quota.redis.addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Quota.Postgres.DSN == "" {
			return fmt.Errorf("pitchiq: config: quota.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("pitchiq: config: unknown quota backend %q", c.Quota.Backend)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("pitchiq: config: invalid logging.format %q", c.Logging.Format)
	}

	if c.Throttle.Enabled {
		if c.Throttle.RPS <= 0 {
			return fmt.Errorf("pitchiq: config: throttle.rps must be > 0")
		}
		if c.Throttle.Burst <= 0 {
			return fmt.Errorf("pitchiq: config: throttle.burst must be > 0")
		}
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("pitchiq: config: invalid trusted proxy %q", p)
			}
		}
	}
	if c.Concurrency.Max < 0 {
		return fmt.Errorf("pitchiq: config: concurrency.max must be >= 0")
	}
	return nil
}
