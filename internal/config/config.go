// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file > embedded > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/rdietric/collectd-plugins/internal/buffer"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all agent configuration.
type Config struct {
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Write      WriteConfig      `yaml:"write"`
	Collection CollectionConfig `yaml:"collection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// InfluxDBConfig holds the time-series database connection settings.
type InfluxDBConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	SSL            bool     `yaml:"ssl"`
	User           string   `yaml:"user"`
	Password       string   `yaml:"password"`
	Database       string   `yaml:"database"`
	Timeout        Duration `yaml:"timeout"`
	MaxRetries     int      `yaml:"max_retries"`
	CreateDatabase bool     `yaml:"create_database"`
	Gzip           bool     `yaml:"gzip"`
}

// WriteConfig holds batching, caching and aggregation settings.
type WriteConfig struct {
	// BatchSize is the number of entries sent in one write.
	BatchSize int `yaml:"batch_size"`
	// CacheSize is the maximum number of entries kept while writes fail.
	CacheSize  int  `yaml:"cache_size"`
	StoreRates bool `yaml:"store_rates"`
	// PerCore lists "<measurement>:<sum|avg>" entries.
	PerCore        []string            `yaml:"per_core"`
	RateIdleExpiry Duration            `yaml:"rate_idle_expiry"`
	Shapes         map[string][]string `yaml:"shapes"`
}

// CollectionConfig holds metric collection settings.
type CollectionConfig struct {
	Interval      Duration `yaml:"interval"`
	FlushInterval Duration `yaml:"flush_interval"`
	// Hostname overrides the host tag. Empty means the OS hostname.
	Hostname   string   `yaml:"hostname"`
	Collectors []string `yaml:"collectors"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// TelemetryConfig holds the self-metrics endpoint settings.
type TelemetryConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		InfluxDB: InfluxDBConfig{
			Host:     "localhost",
			Port:     8086,
			Database: "collectd",
			Timeout:  Duration{10 * time.Second},
			Gzip:     true,
		},
		Write: WriteConfig{
			BatchSize: 200,
			CacheSize: 2000,
		},
		Collection: CollectionConfig{
			Interval:      Duration{10 * time.Second},
			FlushInterval: Duration{60 * time.Second},
			Collectors:    []string{"cpu", "memory", "disk", "interface", "load", "uptime"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	Host     string
	Database string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value  → use that path ("" means no external file)
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %s: %w", filePath, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if cli.Host != "" {
		cfg.InfluxDB.Host = cli.Host
	}
	if cli.Database != "" {
		cfg.InfluxDB.Database = cli.Database
	}

	return cfg, nil
}

// Save serializes the config to a YAML file at the given path, so the
// effective layered configuration can be inspected or deployed as a file.
// Creates parent directories if needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("HW_INFLUX_HOST"); host != "" {
		cfg.InfluxDB.Host = host
	}
	if user := os.Getenv("HW_INFLUX_USER"); user != "" {
		cfg.InfluxDB.User = user
	}
	if pwd := os.Getenv("HW_INFLUX_PASSWORD"); pwd != "" {
		cfg.InfluxDB.Password = pwd
	}
	if db := os.Getenv("HW_INFLUX_DATABASE"); db != "" {
		cfg.InfluxDB.Database = db
	}
	if level := os.Getenv("HW_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate checks that the configuration is usable. All problems are
// reported together.
func (c *Config) Validate() error {
	var err error
	if c.InfluxDB.Host == "" {
		err = multierr.Append(err, fmt.Errorf("influxdb host is required"))
	}
	if c.InfluxDB.Port < 1 || c.InfluxDB.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("influxdb port %d out of range", c.InfluxDB.Port))
	}
	if c.InfluxDB.Database == "" {
		err = multierr.Append(err, fmt.Errorf("influxdb database is required"))
	}
	if c.InfluxDB.MaxRetries < 0 {
		err = multierr.Append(err, fmt.Errorf("max_retries must not be negative"))
	}
	if c.Write.BatchSize < 1 {
		err = multierr.Append(err, fmt.Errorf("batch_size must be at least 1, got %d", c.Write.BatchSize))
	}
	if c.Write.CacheSize < c.Write.BatchSize {
		err = multierr.Append(err, fmt.Errorf("cache_size %d is smaller than batch_size %d", c.Write.CacheSize, c.Write.BatchSize))
	}
	if _, perr := buffer.ParsePerCore(c.Write.PerCore); perr != nil {
		err = multierr.Append(err, perr)
	}
	if c.Collection.Interval.Duration <= 0 {
		err = multierr.Append(err, fmt.Errorf("collection interval must be positive"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	return err
}
