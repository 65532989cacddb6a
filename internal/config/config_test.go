package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func reset(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults(viper.GetViper())
	t.Cleanup(viper.Reset)
}

func TestDefaults(t *testing.T) {
	reset(t)

	assert.Equal(t, "truth.toml", GetPolicyFile())
	assert.Equal(t, slog.LevelInfo, GetLogLevel())
	assert.Equal(t, "text", GetLogFormat())
	assert.Equal(t, 30*24*time.Hour, GetRetention())
	assert.Equal(t, 5, GetBackupKeep())
	assert.Equal(t, 750*time.Millisecond, GetWatchDebounce())
	assert.Empty(t, GetMetricsFile())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TRUTH_LOG_LEVEL", "debug")
	t.Setenv("TRUTH_LOG_FORMAT", "JSON")
	t.Setenv("TRUTH_BACKUP_KEEP", "2")
	reset(t)

	assert.Equal(t, slog.LevelDebug, GetLogLevel())
	assert.Equal(t, "json", GetLogFormat())
	assert.Equal(t, 2, GetBackupKeep())
}

func TestInvalidValuesFallBack(t *testing.T) {
	reset(t)
	viper.Set(KeyLogLevel, "chatty")
	viper.Set(KeyWatchDebounce, "soon")
	viper.Set(KeyBackupKeep, -3)

	assert.Equal(t, slog.LevelInfo, GetLogLevel())
	assert.Equal(t, 750*time.Millisecond, GetWatchDebounce())
	assert.Equal(t, 0, GetBackupKeep())
}
