// Package config provides configuration management for the rebalancer
// scheduling service. It uses koanf v2 to load configuration from YAML
// files and supports saving updated configuration.
//
// Configuration is loaded from /etc/rebalancerd/config.yaml by default.
// The configuration file should have restricted permissions (0600) as
// it contains the platform API key and NATS credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	goyaml "gopkg.in/yaml.v3"
)

// DefaultConfigPath is the default location of the service configuration.
const DefaultConfigPath = "/etc/rebalancerd/config.yaml"

// Config holds the service configuration loaded from the YAML file.
// Fields are tagged for both koanf (loading) and yaml (saving).
type Config struct {
	// ListenAddr is the dashboard-facing HTTP listen address.
	// Default: ":8480".
	ListenAddr string `koanf:"listen_addr" yaml:"listen_addr"`

	// PlatformURL is the base URL of the managed database/auth
	// platform that also serves the trusted time endpoint. Required.
	PlatformURL string `koanf:"platform_url" yaml:"platform_url"`

	// PlatformAPIKey authenticates this service against the platform.
	PlatformAPIKey string `koanf:"platform_api_key" yaml:"platform_api_key"`

	// BrokerageURL is the base URL of the external brokerage API that
	// account and order-preview requests are forwarded to. Required.
	BrokerageURL string `koanf:"brokerage_url" yaml:"brokerage_url"`

	// DataDir holds the bbolt schedule database.
	// Default: "/var/lib/rebalancerd".
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	// EvaluationSchedule is the cron expression driving the trigger
	// loop that scans for due schedules. Default: "@every 30s".
	EvaluationSchedule string `koanf:"evaluation_schedule" yaml:"evaluation_schedule"`

	// TimeCacheTTLSeconds is how long a fetched trusted-clock offset
	// is reused before refreshing. Default: 30.
	TimeCacheTTLSeconds int `koanf:"time_cache_ttl_seconds" yaml:"time_cache_ttl_seconds"`

	// NATSServers is a comma-separated list of NATS server URLs. When
	// set together with NATSNKeySeed, fire events are published to
	// NATS for the execution workflow; otherwise events are log-only.
	NATSServers string `koanf:"nats_servers" yaml:"nats_servers"`

	// NATSNKeySeed is the NKey seed for NATS authentication.
	NATSNKeySeed string `koanf:"nats_nkey_seed" yaml:"nats_nkey_seed"`

	// Environment names the deployment (e.g. "prod", "staging") and
	// is embedded in event subjects. Default: "dev".
	Environment string `koanf:"environment" yaml:"environment"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: "info".
	LogLevel string `koanf:"log_level" yaml:"log_level"`
}

// Validation errors returned by Load when required fields are missing
// or malformed.
var (
	ErrPlatformURLRequired   = errors.New("platform_url is required")
	ErrBrokerageURLRequired  = errors.New("brokerage_url is required")
	ErrInvalidEvaluationExpr = errors.New("evaluation_schedule is not a valid cron expression")
	ErrInvalidTimeCacheTTL   = errors.New("time_cache_ttl_seconds must not be negative")
)

// cadenceParser validates the evaluation cadence with the same cron
// dialect the trigger uses at runtime.
var cadenceParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Load reads configuration from the specified YAML file path, applies
// defaults for optional fields, and validates required ones.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8480"
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/rebalancerd"
	}
	if c.EvaluationSchedule == "" {
		c.EvaluationSchedule = "@every 30s"
	}
	if c.TimeCacheTTLSeconds == 0 {
		c.TimeCacheTTLSeconds = 30
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// validate checks that required configuration fields are present and valid.
func (c *Config) validate() error {
	if c.PlatformURL == "" {
		return ErrPlatformURLRequired
	}
	if c.BrokerageURL == "" {
		return ErrBrokerageURLRequired
	}
	if _, err := cadenceParser.Parse(c.EvaluationSchedule); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidEvaluationExpr, c.EvaluationSchedule, err)
	}
	if c.TimeCacheTTLSeconds < 0 {
		return ErrInvalidTimeCacheTTL
	}
	return nil
}

// NATSEnabled returns true if NATS event publishing is configured.
func (c *Config) NATSEnabled() bool {
	return c.NATSServers != "" && c.NATSNKeySeed != ""
}

// Save writes the configuration to the specified YAML file path with
// 0600 permissions (it contains credentials).
func Save(path string, cfg *Config) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}

	return nil
}
