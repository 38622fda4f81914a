package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the file name looked up in the working directory.
const DefaultConfigFile = "sensorbuf.yaml"

// Config holds all sensorbuf configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Simulated sensor
	Sensor SensorConfig `yaml:"sensor"`

	// Worker pool
	Workers WorkersConfig `yaml:"workers"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// SensorConfig describes the sample buffer.
type SensorConfig struct {
	Count int     `yaml:"count"`          // number of samples
	Seed  *uint64 `yaml:"seed,omitempty"` // nil = random fill
}

// WorkersConfig describes the concurrent mutation pass.
type WorkersConfig struct {
	Count        int    `yaml:"count"`
	Delta        int    `yaml:"delta"`
	Granularity  string `yaml:"granularity"`   // batch, per-element
	ElementPause string `yaml:"element_pause"` // per-element mode only
	Timeout      string `yaml:"timeout"`       // per-worker hard limit, "" or "0" = none
}

// ValidGranularities lists the accepted workers.granularity values.
var ValidGranularities = []string{"batch", "per-element"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "Sensor Program",
		Version: "1.0",

		Sensor: SensorConfig{
			Count: 50000,
		},

		Workers: WorkersConfig{
			Count:        2,
			Delta:        5,
			Granularity:  "batch",
			ElementPause: "5ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultConfigPath returns SENSORBUF_CONFIG if set, otherwise
// DefaultConfigFile in the working directory.
func DefaultConfigPath() string {
	if p := os.Getenv("SENSORBUF_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigFile
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// String renders the config as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<invalid config: %v>", err)
	}
	return string(data)
}

// applyEnvOverrides applies SENSORBUF_* environment variables.
// Values that do not parse are ignored.
func (c *Config) applyEnvOverrides() {
	if n, ok := envInt("SENSORBUF_COUNT"); ok {
		c.Sensor.Count = n
	}
	if v := os.Getenv("SENSORBUF_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Sensor.Seed = &seed
		}
	}
	if n, ok := envInt("SENSORBUF_WORKERS"); ok {
		c.Workers.Count = n
	}
	if n, ok := envInt("SENSORBUF_DELTA"); ok {
		c.Workers.Delta = n
	}
	if g := os.Getenv("SENSORBUF_GRANULARITY"); g != "" {
		c.Workers.Granularity = g
	}
	if level := os.Getenv("SENSORBUF_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetElementPause returns the per-element pause as a duration.
func (c *Config) GetElementPause() time.Duration {
	d, err := time.ParseDuration(c.Workers.ElementPause)
	if err != nil || d < 0 {
		return 5 * time.Millisecond
	}
	return d
}

// GetWorkerTimeout returns the per-worker timeout, zero when unset.
func (c *Config) GetWorkerTimeout() time.Duration {
	if c.Workers.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Workers.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.ValidateLimits(); err != nil {
		return err
	}

	validGranularity := false
	for _, g := range ValidGranularities {
		if strings.EqualFold(c.Workers.Granularity, g) {
			validGranularity = true
			break
		}
	}
	if !validGranularity {
		return fmt.Errorf("invalid workers.granularity: %q (valid: %v)", c.Workers.Granularity, ValidGranularities)
	}

	if err := validateDuration("workers.element_pause", c.Workers.ElementPause); err != nil {
		return err
	}
	if err := validateDuration("workers.timeout", c.Workers.Timeout); err != nil {
		return err
	}

	return c.Logging.Validate()
}

// validateDuration accepts "" (unset) or a non-negative duration.
func validateDuration(key, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return fmt.Errorf("invalid %s: %s is negative", key, v)
	}
	return nil
}
