// Package config handles TOML and YAML configuration for the sweeper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
)

// DefaultRoleTemplate is expanded with {account}, {api_name} and {stage}.
const DefaultRoleTemplate = "arn:aws:iam::{account}:role/{api_name}-test-{stage}"

// Config is the root configuration structure.
type Config struct {
	AWS      AWSConfig      `toml:"aws" yaml:"aws"`
	Sweep    SweepConfig    `toml:"sweep" yaml:"sweep"`
	Store    StoreConfig    `toml:"store" yaml:"store"`
	Policy   PolicyConfig   `toml:"policy" yaml:"policy"`
	Schedule ScheduleConfig `toml:"schedule" yaml:"schedule"`
	OTEL     OTELConfig     `toml:"otel" yaml:"otel"`
	Journal  JournalConfig  `toml:"journal" yaml:"journal"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

// AWSConfig holds account and region settings.
type AWSConfig struct {
	Regions       []string `toml:"regions" yaml:"regions"`
	PrimaryRegion string   `toml:"primary_region" yaml:"primary_region"`
	Profile       string   `toml:"profile" yaml:"profile"`

	APIName         string `toml:"api_name" yaml:"api_name"`
	TestAccountID   string `toml:"test_account_id" yaml:"test_account_id"`
	LambdaAccountID string `toml:"lambda_account_id" yaml:"lambda_account_id"`
	RoleTemplate    string `toml:"role_template" yaml:"role_template"`

	// IAMNamePrefix limits IAM kinds to names with this prefix.
	IAMNamePrefix string `toml:"iam_name_prefix" yaml:"iam_name_prefix"`
	// PersistentBuckets are kept but emptied of stale objects.
	PersistentBuckets []string `toml:"persistent_buckets" yaml:"persistent_buckets"`
}

// SweepConfig holds sweep behaviour.
type SweepConfig struct {
	Stage       string   `toml:"stage" yaml:"stage"`
	Check       bool     `toml:"check" yaml:"check"`
	Force       bool     `toml:"force" yaml:"force"`
	Targets     []string `toml:"targets" yaml:"targets"`
	Exclude     []string `toml:"exclude" yaml:"exclude"`
	Concurrency int      `toml:"concurrency" yaml:"concurrency"`

	PurgeThresholdStr string        `toml:"purge_threshold" yaml:"purge_threshold"`
	PurgeThreshold    time.Duration `toml:"-" yaml:"-"`
	PurgeBatchSize    int           `toml:"purge_batch_size" yaml:"purge_batch_size"`

	// AgeLimitStrs overrides per-kind age limits, e.g. Ec2Vpc = "1h".
	AgeLimitStrs map[string]string        `toml:"age_limits" yaml:"age_limits"`
	AgeLimits    map[string]time.Duration `toml:"-" yaml:"-"`
}

// StoreConfig selects the age store backend.
type StoreConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
	// Table overrides the derived DynamoDB table name.
	Table  string `toml:"table" yaml:"table"`
	Path   string `toml:"path" yaml:"path"`
	Region string `toml:"region" yaml:"region"`
}

// PolicyConfig holds protection policy settings.
type PolicyConfig struct {
	Files []string `toml:"files" yaml:"files"`
}

// ScheduleConfig holds daemon settings.
type ScheduleConfig struct {
	Cron        string        `toml:"cron" yaml:"cron"`
	IntervalStr string        `toml:"interval" yaml:"interval"`
	Interval    time.Duration `toml:"-" yaml:"-"`
	MetricsAddr string        `toml:"metrics_addr" yaml:"metrics_addr"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool          `toml:"insecure" yaml:"insecure"`
	ServiceName string        `toml:"service_name" yaml:"service_name"`
	Traces      TracesConfig  `toml:"traces" yaml:"traces"`
	Metrics     MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// JournalConfig holds audit journal settings. An empty Dir disables it.
type JournalConfig struct {
	Dir           string `toml:"dir" yaml:"dir"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// legacyYAML carries the flat keys of the original config.yml.
type legacyYAML struct {
	APIName         string `yaml:"api_name"`
	TestAccountID   string `yaml:"test_account_id"`
	LambdaAccountID string `yaml:"lambda_account_id"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a config file. Files ending in .yml or .yaml are parsed as YAML,
// anything else as TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := parseYAML(data, cfg); err != nil {
			return nil, err
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseYAML(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	var legacy legacyYAML
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if cfg.AWS.APIName == "" {
		cfg.AWS.APIName = legacy.APIName
	}
	if cfg.AWS.TestAccountID == "" {
		cfg.AWS.TestAccountID = legacy.TestAccountID
	}
	if cfg.AWS.LambdaAccountID == "" {
		cfg.AWS.LambdaAccountID = legacy.LambdaAccountID
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.AWS.Regions) == 0 {
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		cfg.AWS.Regions = []string{region}
	}
	if cfg.AWS.PrimaryRegion == "" {
		cfg.AWS.PrimaryRegion = "us-east-1"
	}
	if cfg.AWS.RoleTemplate == "" {
		cfg.AWS.RoleTemplate = DefaultRoleTemplate
	}
	if cfg.AWS.IAMNamePrefix == "" {
		cfg.AWS.IAMNamePrefix = "ansible-test"
	}
	if cfg.AWS.PersistentBuckets == nil {
		cfg.AWS.PersistentBuckets = []string{"ssm-encrypted-test-bucket"}
	}

	if cfg.Sweep.Stage == "" {
		cfg.Sweep.Stage = "prod"
	}
	if cfg.Sweep.Concurrency == 0 {
		cfg.Sweep.Concurrency = 4
	}
	if cfg.Sweep.PurgeThresholdStr == "" {
		cfg.Sweep.PurgeThresholdStr = "60m"
	}
	if cfg.Sweep.PurgeBatchSize == 0 {
		cfg.Sweep.PurgeBatchSize = 25
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendDynamoDB
	}
	if cfg.Store.Region == "" {
		cfg.Store.Region = cfg.AWS.PrimaryRegion
	}

	if cfg.Schedule.IntervalStr == "" && cfg.Schedule.Cron == "" {
		cfg.Schedule.IntervalStr = "30m"
	}
	if cfg.Schedule.MetricsAddr == "" {
		cfg.Schedule.MetricsAddr = ":9090"
	}

	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "sweeper"
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Sweep.PurgeThresholdStr)
	if err != nil {
		return fmt.Errorf("parse purge_threshold %q: %w", cfg.Sweep.PurgeThresholdStr, err)
	}
	cfg.Sweep.PurgeThreshold = d

	if cfg.Schedule.IntervalStr != "" {
		d, err := time.ParseDuration(cfg.Schedule.IntervalStr)
		if err != nil {
			return fmt.Errorf("parse interval %q: %w", cfg.Schedule.IntervalStr, err)
		}
		cfg.Schedule.Interval = d
	}

	cfg.Sweep.AgeLimits = make(map[string]time.Duration, len(cfg.Sweep.AgeLimitStrs))
	for kind, s := range cfg.Sweep.AgeLimitStrs {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse age limit for %s %q: %w", kind, s, err)
		}
		cfg.Sweep.AgeLimits[kind] = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if len(c.AWS.Regions) == 0 {
		return fmt.Errorf("aws: at least one region required")
	}
	if c.Sweep.Stage == "" {
		return fmt.Errorf("sweep: stage required")
	}
	if c.Sweep.Concurrency < 1 {
		return fmt.Errorf("sweep: concurrency must be at least 1 (got %d)", c.Sweep.Concurrency)
	}
	if c.Sweep.PurgeThreshold < 0 {
		return fmt.Errorf("sweep: purge_threshold must not be negative")
	}
	if c.Sweep.PurgeBatchSize < 1 || c.Sweep.PurgeBatchSize > 25 {
		return fmt.Errorf("sweep: purge_batch_size must be between 1 and 25 (got %d)", c.Sweep.PurgeBatchSize)
	}
	for kind, d := range c.Sweep.AgeLimits {
		if d <= 0 {
			return fmt.Errorf("sweep: age limit for %s must be positive", kind)
		}
	}

	switch c.Store.Backend {
	case BackendDynamoDB:
		if c.Store.Table == "" && c.AWS.APIName == "" {
			return fmt.Errorf("store: dynamodb backend needs aws.api_name or store.table")
		}
	case BackendBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("store: bolt backend needs store.path")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}

// RoleARN expands the role template for an account.
func (c *Config) RoleARN(account string) string {
	return strings.NewReplacer(
		"{account}", account,
		"{api_name}", c.AWS.APIName,
		"{stage}", c.Sweep.Stage,
	).Replace(c.AWS.RoleTemplate)
}
