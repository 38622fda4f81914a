// Package logging builds the zap loggers used across sensorbuf.
// A single root logger is configured from config.LoggingConfig; each
// subsystem asks for a named child by Category, and categories switched off
// in the config get a no-op logger.
package logging

import (
	"fmt"
	"strings"

	"sensorbuf/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot        Category = "boot"        // startup, config loading
	CategoryBuffer      Category = "buffer"      // sample buffer creation
	CategoryCoordinator Category = "coordinator" // worker spawning and joins
	CategoryCLI         Category = "cli"         // command handling, output
)

// Logger is the configured root logger plus its category filter.
type Logger struct {
	root  *zap.Logger
	level zap.AtomicLevel
	cfg   config.LoggingConfig
}

// New builds a root logger. Format "json" uses zap's production encoder,
// anything else the development console encoder.
func New(cfg config.LoggingConfig) (*Logger, error) {
	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "json":
		zcfg = zap.NewProductionConfig()
	default:
		zcfg = zap.NewDevelopmentConfig()
		zcfg.DisableStacktrace = true
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zcfg.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}

	root, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &Logger{root: root, level: zcfg.Level, cfg: cfg}, nil
}

// ParseLevel maps the config level names onto zap levels. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Get returns the named logger for a category, or a no-op logger if the
// category is disabled.
func (l *Logger) Get(category Category) *zap.Logger {
	if !l.cfg.IsCategoryEnabled(string(category)) {
		return zap.NewNop()
	}
	return l.root.Named(string(category))
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Level reports the current level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.root.Sync()
}
