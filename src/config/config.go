// Package config loads bot configuration from YAML, with ${VAR}
// expansion, duration strings and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Token   string `yaml:"token"`
	Intents int64  `yaml:"intents"`

	API      APIConfig      `yaml:"api"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Commands CommandsConfig `yaml:"commands"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig configures the REST client.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	MaxRetries  int           `yaml:"max_retries"`
	GlobalLimit int           `yaml:"global_limit"`
	Timeout     time.Duration `yaml:"-"`
	TimeoutRaw  string        `yaml:"timeout"`
}

// GatewayConfig configures the shards and their connections.
type GatewayConfig struct {
	// URL overrides the URL returned by /gateway/bot.
	URL            string `yaml:"url"`
	Version        int    `yaml:"version"`
	Compress       bool   `yaml:"compress"`
	LargeThreshold int    `yaml:"large_threshold"`
	// ShardCount of 0 uses the recommended count.
	ShardCount int `yaml:"shard_count"`
	// ShardIDs limits this process to a subset of shards.
	ShardIDs []int `yaml:"shard_ids"`

	MaxResumeAttempts      int `yaml:"max_resume_attempts"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	CommandLimit           int `yaml:"command_limit"`
	HeartbeatReserve       int `yaml:"heartbeat_reserve"`

	HelloTimeout  time.Duration `yaml:"-"`
	BackoffBase   time.Duration `yaml:"-"`
	BackoffMax    time.Duration `yaml:"-"`
	CommandWindow time.Duration `yaml:"-"`

	HelloTimeoutRaw  string `yaml:"hello_timeout"`
	BackoffBaseRaw   string `yaml:"backoff_base"`
	BackoffMaxRaw    string `yaml:"backoff_max"`
	CommandWindowRaw string `yaml:"command_window"`
}

type DispatchConfig struct {
	ResponderTimeout    time.Duration `yaml:"-"`
	ResponderTimeoutRaw string        `yaml:"responder_timeout"`
}

type CommandsConfig struct {
	// Prefix enables text commands in MESSAGE_CREATE when set.
	Prefix string `yaml:"prefix"`
}

// StoreConfig configures warm-start session persistence. An empty path
// disables it.
type StoreConfig struct {
	Path      string        `yaml:"path"`
	MaxAge    time.Duration `yaml:"-"`
	MaxAgeRaw string        `yaml:"max_age"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for every key a file leaves
// out.
func Default() *Config {
	cfg := &Config{
		Intents: 1<<0 | 1<<9 | 1<<15, // GUILDS, GUILD_MESSAGES, MESSAGE_CONTENT
		API: APIConfig{
			BaseURL:     "https://discord.com/api/v10",
			MaxRetries:  3,
			GlobalLimit: 50,
			TimeoutRaw:  "30s",
		},
		Gateway: GatewayConfig{
			Version:                10,
			LargeThreshold:         50,
			MaxResumeAttempts:      3,
			MaxConsecutiveFailures: 10,
			CommandLimit:           120,
			HeartbeatReserve:       3,
			HelloTimeoutRaw:        "20s",
			BackoffBaseRaw:         "1s",
			BackoffMaxRaw:          "60s",
			CommandWindowRaw:       "60s",
		},
		Dispatch: DispatchConfig{ResponderTimeoutRaw: "10s"},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
	}
	if err := parseDurations(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the file at path over Default. ${VAR} references are
// expanded from the environment before parsing. overrides run after the
// file is applied and before validation; an empty path loads only the
// defaults.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return Parse(data, overrides...)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

var envVar = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or nothing if
// it is unset.
func expandEnvVars(s string) string {
	return envVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVar.FindStringSubmatch(match)[1])
	})
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("token is required")
	}
	if c.Intents < 0 {
		return fmt.Errorf("intents must not be negative, got %d", c.Intents)
	}
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.GlobalLimit <= 0 {
		return fmt.Errorf("api.global_limit must be positive, got %d", c.API.GlobalLimit)
	}
	if c.Gateway.Version <= 0 {
		return fmt.Errorf("gateway.version must be positive, got %d", c.Gateway.Version)
	}
	if c.Gateway.ShardCount < 0 {
		return fmt.Errorf("gateway.shard_count must not be negative, got %d", c.Gateway.ShardCount)
	}
	for _, id := range c.Gateway.ShardIDs {
		if id < 0 || (c.Gateway.ShardCount > 0 && id >= c.Gateway.ShardCount) {
			return fmt.Errorf("gateway.shard_ids: %d is outside [0, %d)", id, c.Gateway.ShardCount)
		}
	}
	if len(c.Gateway.ShardIDs) > 0 && c.Gateway.ShardCount == 0 {
		return errors.New("gateway.shard_ids needs gateway.shard_count")
	}
	if c.Gateway.HeartbeatReserve < 1 || c.Gateway.HeartbeatReserve >= c.Gateway.CommandLimit {
		return fmt.Errorf("gateway.heartbeat_reserve must be in [1, command_limit), got %d", c.Gateway.HeartbeatReserve)
	}
	if c.Gateway.BackoffBase <= 0 || c.Gateway.BackoffMax < c.Gateway.BackoffBase {
		return fmt.Errorf("gateway backoff must satisfy 0 < backoff_base <= backoff_max, got %s..%s", c.Gateway.BackoffBase, c.Gateway.BackoffMax)
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration
// values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"api.timeout", cfg.API.TimeoutRaw, &cfg.API.Timeout},
		{"gateway.hello_timeout", cfg.Gateway.HelloTimeoutRaw, &cfg.Gateway.HelloTimeout},
		{"gateway.backoff_base", cfg.Gateway.BackoffBaseRaw, &cfg.Gateway.BackoffBase},
		{"gateway.backoff_max", cfg.Gateway.BackoffMaxRaw, &cfg.Gateway.BackoffMax},
		{"gateway.command_window", cfg.Gateway.CommandWindowRaw, &cfg.Gateway.CommandWindow},
		{"dispatch.responder_timeout", cfg.Dispatch.ResponderTimeoutRaw, &cfg.Dispatch.ResponderTimeout},
		{"store.max_age", cfg.Store.MaxAgeRaw, &cfg.Store.MaxAge},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
