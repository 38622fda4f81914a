package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sensorbuf/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorbuf.log")
	l, err := New(config.LoggingConfig{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	l.Get(CategoryCoordinator).Info("Run complete", zap.Float64("average", 35))
	l.Get(CategoryCoordinator).Debug("hidden at info level")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"logger":"coordinator"`)
	assert.Contains(t, out, `"average":35`)
	assert.False(t, strings.Contains(out, "hidden at info level"))
}

func TestSetLevel(t *testing.T) {
	l, err := New(config.LoggingConfig{Level: "error"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.ErrorLevel, l.Level())
	assert.False(t, l.Get(CategoryCLI).Core().Enabled(zapcore.DebugLevel))

	l.SetLevel(zapcore.DebugLevel)
	assert.True(t, l.Get(CategoryCLI).Core().Enabled(zapcore.DebugLevel))

	l.SetLevel(zapcore.WarnLevel)
	assert.Equal(t, zapcore.WarnLevel, l.Level())
	assert.False(t, l.Get(CategoryCLI).Core().Enabled(zapcore.InfoLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestGet_DisabledCategoryIsNop(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{
		root: zap.New(core),
		cfg:  config.LoggingConfig{Categories: map[string]bool{string(CategoryBuffer): false}},
	}

	l.Get(CategoryBuffer).Info("dropped")
	l.Get(CategoryCoordinator).Info("kept")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, "coordinator", entries[0].LoggerName)
}
