// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LogConfig controls the process logger.
type LogConfig struct {
	// Format is one of "text", "json" or "logfmt". Empty picks text on a
	// terminal and json otherwise.
	Format string `env:"FORMAT" yaml:"format"`
	Level  string `env:"LEVEL" yaml:"level"`
}

// RateLimitConfig holds the per-IP budgets.
type RateLimitConfig struct {
	Enabled      bool    `env:"ENABLED" yaml:"enabled"`
	GlobalRPS    float64 `env:"GLOBAL_RPS" yaml:"global_rps"`
	GlobalBurst  int     `env:"GLOBAL_BURST" yaml:"global_burst"`
	AuthPerMin   int     `env:"AUTH_PER_MIN" yaml:"auth_per_min"`
	VerifyPerMin int     `env:"VERIFY_PER_MIN" yaml:"verify_per_min"`
	ChatPerMin   int     `env:"CHAT_PER_MIN" yaml:"chat_per_min"`
}

// ChatConfig points at an OpenAI-compatible chat completions API.
type ChatConfig struct {
	BaseURL string `env:"BASE_URL" yaml:"base_url"`
	APIKey  string `env:"API_KEY" yaml:"-"`
	Model   string `env:"MODEL" yaml:"model"`
}

// ChainConfig points at an Ethereum JSON-RPC endpoint.
type ChainConfig struct {
	RPCURL       string `env:"RPC_URL" yaml:"rpc_url"`
	TokenAddress string `env:"TOKEN_ADDRESS" yaml:"token_address"`
}

// PaymentsConfig holds the webhook signing secret.
type PaymentsConfig struct {
	WebhookSecret string `env:"WEBHOOK_SECRET" yaml:"-"`
}

// SMTPConfig configures outgoing verification mail. An empty Host logs
// messages instead of sending them.
type SMTPConfig struct {
	Host     string `env:"HOST" yaml:"host"`
	Port     int    `env:"PORT" yaml:"port"`
	Username string `env:"USERNAME" yaml:"username"`
	Password string `env:"PASSWORD" yaml:"-"`
	From     string `env:"FROM" yaml:"from"`
}

type Config struct {
	Port         int           `env:"PORT" yaml:"port"`
	DatabaseURL  string        `env:"DATABASE_URL" yaml:"database_url"`
	DatabaseType string        `env:"DATABASE_TYPE" yaml:"database_type"`
	JWTSecret    string        `env:"JWT_SECRET" yaml:"-"`
	IPHashSalt   string        `env:"IP_HASH_SALT" yaml:"-"`
	SessionTTL   time.Duration `env:"SESSION_TTL" yaml:"session_ttl"`
	RedisURL     string        `env:"REDIS_URL" yaml:"redis_url"`
	TrustProxy   bool          `env:"TRUST_PROXY" yaml:"trust_proxy"`
	MetricsAddr  string        `env:"METRICS_ADDR" yaml:"metrics_addr"`
	OTelEndpoint string        `env:"OTEL_ENDPOINT" yaml:"otel_endpoint"`

	Log       LogConfig       `envPrefix:"LOG_" yaml:"log"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_" yaml:"rate_limit"`
	Chat      ChatConfig      `envPrefix:"CHAT_" yaml:"chat"`
	Chain     ChainConfig     `envPrefix:"CHAIN_" yaml:"chain"`
	Payments  PaymentsConfig  `envPrefix:"PAYMENTS_" yaml:"payments"`
	SMTP      SMTPConfig      `envPrefix:"SMTP_" yaml:"smtp"`
}

// DefaultConfig returns the settings used when nothing else is provided.
func DefaultConfig() Config {
	return Config{
		Port:       3318,
		SessionTTL: 24 * time.Hour,
		RateLimit: RateLimitConfig{
			Enabled:      true,
			GlobalRPS:    20,
			GlobalBurst:  40,
			AuthPerMin:   10,
			VerifyPerMin: 5,
			ChatPerMin:   20,
		},
		Chat: ChatConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		SMTP: SMTPConfig{
			Port: 587,
			From: "VoteQuest <no-reply@votequest.app>",
		},
	}
}

// Flags holds the command-line overrides bound to a flag set.
type Flags struct {
	fs *pflag.FlagSet

	configPath   string
	envFile      string
	port         int
	databaseURL  string
	databaseType string
	jwtSecret    string
	ipHashSalt   string
	redisURL     string
	metricsAddr  string
}

// Bind registers the server flags on fs.
func Bind(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}

	fs.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file")
	fs.StringVar(&f.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")

	// Network config (can be CLI args or env)
	fs.IntVarP(&f.port, "port", "p", 0, "Server port")
	fs.StringVarP(&f.databaseURL, "database-url", "d", "", "Database URL")
	fs.StringVarP(&f.databaseType, "database-type", "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&f.redisURL, "redis-url", "", "Redis URL for shared rate limits and codes")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Listen address for the Prometheus endpoint")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&f.jwtSecret, "jwt-secret", "", "Session signing secret (prefer env)")
	fs.StringVar(&f.ipHashSalt, "ip-salt", "", "IP hashing salt (prefer env)")

	return f
}

// Load resolves the configuration: defaults, then the YAML file, then the
// dotenv file and the environment, then explicitly set flags.
func (f *Flags) Load() (Config, error) {
	cfg := DefaultConfig()

	if f.configPath != "" {
		data, err := os.ReadFile(f.configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if f.envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f.envFile, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if f.fs.Changed("port") {
		cfg.Port = f.port
	}
	if f.fs.Changed("database-url") {
		cfg.DatabaseURL = f.databaseURL
	}
	if f.fs.Changed("database-type") {
		cfg.DatabaseType = f.databaseType
	}
	if f.fs.Changed("redis-url") {
		cfg.RedisURL = f.redisURL
	}
	if f.fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if f.fs.Changed("jwt-secret") {
		cfg.JWTSecret = f.jwtSecret
	}
	if f.fs.Changed("ip-salt") {
		cfg.IPHashSalt = f.ipHashSalt
	}

	return cfg, cfg.Validate()
}

// Validate checks required settings and fills derived ones.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DatabaseURL == "" {
		return errors.New("database URL required (use -d or DATABASE_URL env)")
	}
	if c.DatabaseType == "" {
		c.DatabaseType = DatabaseTypeFor(c.DatabaseURL)
	}
	if c.DatabaseType != "sqlite" && c.DatabaseType != "postgres" {
		return fmt.Errorf("unsupported database type %q", c.DatabaseType)
	}

	// Secrets - MUST be provided
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET required (at least 16 characters)")
	}
	if c.IPHashSalt == "" {
		return errors.New("IP_HASH_SALT required")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// DatabaseTypeFor guesses the driver from a connection string.
func DatabaseTypeFor(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}
