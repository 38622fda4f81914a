package config

import "fmt"

// Upper bounds for run parameters. The core accepts any values; these keep
// a configured run within int64 range when averaging
// (MaxCount * (99 + MaxWorkers*MaxDelta) < 2^63).
const (
	MaxCount   = 10_000_000
	MaxWorkers = 10_000
	MaxDelta   = 1_000_000
)

// ValidateLimits checks that run parameters are within acceptable ranges.
func (c *Config) ValidateLimits() error {
	if c.Sensor.Count < 1 || c.Sensor.Count > MaxCount {
		return fmt.Errorf("sensor.count must be in [1, %d], got %d", MaxCount, c.Sensor.Count)
	}
	if c.Workers.Count < 0 || c.Workers.Count > MaxWorkers {
		return fmt.Errorf("workers.count must be in [0, %d], got %d", MaxWorkers, c.Workers.Count)
	}
	if c.Workers.Delta < -MaxDelta || c.Workers.Delta > MaxDelta {
		return fmt.Errorf("workers.delta must be in [-%d, %d], got %d", MaxDelta, MaxDelta, c.Workers.Delta)
	}
	return nil
}
