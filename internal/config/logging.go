package config

import "fmt"

// LoggingConfig configures logging.
type LoggingConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" json:"level,omitempty"`

	// json, console
	Format string `yaml:"format" json:"format,omitempty"`

	// Extra output path; stderr is always written.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Per-category toggles
	Categories map[string]bool `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// Validate checks level and format.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Level)
	}
	switch c.Format {
	case "", "json", "console", "text":
	default:
		return fmt.Errorf("invalid logging.format: %q", c.Format)
	}
	return nil
}
