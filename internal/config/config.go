// Package config loads claimcheck settings from YAML with environment
// overrides. Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all run settings.
type Config struct {
	// Insurers is the path of the UZOVI code to insurer name CSV.
	Insurers    string        `yaml:"insurers"`
	Rules       RulesConfig   `yaml:"rules"`
	Workers     int           `yaml:"workers"`      // files processed in parallel
	RuleWorkers int           `yaml:"rule_workers"` // rules evaluated in parallel per file
	Logging     LoggingConfig `yaml:"logging"`
	MetricsFile string        `yaml:"metrics_file"`
	S3          S3Config      `yaml:"s3"`
	StdGzip     bool          `yaml:"std_gzip"`
}

// RulesConfig selects the rule catalog and toggles rules by name.
type RulesConfig struct {
	Catalog string   `yaml:"catalog"` // empty uses the embedded catalog
	Enable  []string `yaml:"enable"`
	Disable []string `yaml:"disable"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// S3Config configures the S3 client used for s3:// inputs and reports.
type S3Config struct {
	Region string `yaml:"region"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Workers:     2,
		RuleWorkers: 4,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CLAIMCHECK_INSURERS"); v != "" {
		c.Insurers = v
	}
	if v := os.Getenv("CLAIMCHECK_RULES"); v != "" {
		c.Rules.Catalog = v
	}
	if v := os.Getenv("CLAIMCHECK_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CLAIMCHECK_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("CLAIMCHECK_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CLAIMCHECK_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	return nil
}

// ValidLevels lists the accepted logging levels.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// ValidFormats lists the accepted logging encodings.
var ValidFormats = []string{"json", "console"}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.RuleWorkers < 0 {
		return fmt.Errorf("rule_workers must not be negative, got %d", c.RuleWorkers)
	}
	if !slices.Contains(ValidLevels, c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %s (valid: %v)", c.Logging.Level, ValidLevels)
	}
	if !slices.Contains(ValidFormats, c.Logging.Format) {
		return fmt.Errorf("invalid logging format: %s (valid: %v)", c.Logging.Format, ValidFormats)
	}
	return nil
}
