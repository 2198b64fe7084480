package briefauth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration. Build clones it; later changes to
// the caller's copy have no effect.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Flow     FlowConfig     `yaml:"flow"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProviderConfig points the engine at a GoTrue-compatible identity
// provider. An empty URL leaves the engine unconfigured: every submission
// then settles with MsgAuthServiceUnavailable.
type ProviderConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Configured reports whether both the endpoint and the key are set.
func (p ProviderConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" && strings.TrimSpace(p.APIKey) != ""
}

// FlowConfig tunes the OTP flow controller.
type FlowConfig struct {
	// CodeLength is the exact number of digits SubmitCode accepts.
	CodeLength int `yaml:"code_length"`
}

type AuditConfig struct {
	Enabled    bool             `yaml:"enabled"`
	BufferSize int              `yaml:"buffer_size"`
	DropIfFull bool             `yaml:"drop_if_full"`
	Kafka      KafkaAuditConfig `yaml:"kafka"`
}

// KafkaAuditConfig routes audit events to a Kafka topic when Brokers is
// non-empty.
type KafkaAuditConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// LoggingConfig selects the zap preset. Level is one of debug, info, warn,
// error; Format is json or console.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			Timeout: 3 * time.Second,
		},
		Flow: FlowConfig{
			CodeLength: 6,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultConfig returns the configuration New starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
LOADING
====================================
*/

// Environment variables read by ApplyEnv.
const (
	EnvProviderURL     = "BRIEFAUTH_PROVIDER_URL"
	EnvProviderKey     = "BRIEFAUTH_PROVIDER_KEY"
	EnvProviderTimeout = "BRIEFAUTH_PROVIDER_TIMEOUT"
	EnvLogLevel        = "BRIEFAUTH_LOG_LEVEL"
)

// LoadConfig reads a YAML file on top of the defaults and applies
// environment overrides. An empty path loads defaults plus environment.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup has the shape of
// os.LookupEnv so tests can pass a map-backed function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvProviderURL); ok {
		c.Provider.URL = v
	}
	if v, ok := lookup(EnvProviderKey); ok {
		c.Provider.APIKey = v
	}
	if v, ok := lookup(EnvProviderTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProviderTimeout, err)
		}
		c.Provider.Timeout = d
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	return nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations Build cannot honor.
func (c *Config) Validate() error {
	if c.Provider.Timeout <= 0 {
		return errors.New("Provider Timeout must be > 0")
	}
	if c.Provider.Timeout > time.Minute {
		return errors.New("Provider Timeout must be <= 1m")
	}
	if c.Provider.URL != "" {
		if !strings.HasPrefix(c.Provider.URL, "http://") && !strings.HasPrefix(c.Provider.URL, "https://") {
			return errors.New("Provider URL must be http or https")
		}
	}

	if c.Flow.CodeLength < 6 || c.Flow.CodeLength > 10 {
		return errors.New("Flow CodeLength must be between 6 and 10")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if len(c.Audit.Kafka.Brokers) > 0 && strings.TrimSpace(c.Audit.Kafka.Topic) == "" {
		return errors.New("Audit Kafka Topic is required when brokers are set")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("Logging Level %q is invalid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("Logging Format %q is invalid", c.Logging.Format)
	}

	return nil
}
