// Package config exposes the user configuration read by viper. Keys and
// their defaults are registered by SetDefaults.
package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys
const (
	KeyProjectRoot   = "project.root"
	KeyProjectPolicy = "project.policy"
	KeyLogLevel      = "log.level"
	KeyLogFormat     = "log.format"
	KeyRetentionDays = "backup.retention_days"
	KeyBackupKeep    = "backup.keep"
	KeyWatchDebounce = "watch.debounce"
	KeyMetricsFile   = "metrics.file"
)

// EnvPrefix prefixes environment overrides, e.g. TRUTH_LOG_LEVEL.
const EnvPrefix = "TRUTH"

// SetDefaults registers the defaults and environment lookup on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyProjectRoot, ".")
	v.SetDefault(KeyProjectPolicy, "truth.toml")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyRetentionDays, 30)
	v.SetDefault(KeyBackupKeep, 5)
	v.SetDefault(KeyWatchDebounce, "750ms")
	v.SetDefault(KeyMetricsFile, "")
}

// GetProjectRoot returns the absolute project root
func GetProjectRoot() (string, error) {
	return filepath.Abs(viper.GetString(KeyProjectRoot))
}

// GetPolicyFile returns the policy document path relative to the root
func GetPolicyFile() string {
	return viper.GetString(KeyProjectPolicy)
}

// GetLogLevel parses log.level, falling back to info
func GetLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString(KeyLogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// GetLogFormat returns "json" or "text"
func GetLogFormat() string {
	if strings.EqualFold(viper.GetString(KeyLogFormat), "json") {
		return "json"
	}
	return "text"
}

// GetRetention returns how old a backup must be before prune may delete it
func GetRetention() time.Duration {
	return time.Duration(viper.GetInt(KeyRetentionDays)) * 24 * time.Hour
}

// GetBackupKeep returns how many of the newest backups prune always keeps
func GetBackupKeep() int {
	if n := viper.GetInt(KeyBackupKeep); n > 0 {
		return n
	}
	return 0
}

// GetWatchDebounce returns the quiet period before watch re-verifies
func GetWatchDebounce() time.Duration {
	d := viper.GetDuration(KeyWatchDebounce)
	if d <= 0 {
		return 750 * time.Millisecond
	}
	return d
}

// GetMetricsFile returns where to write the metrics textfile, or ""
func GetMetricsFile() string {
	return viper.GetString(KeyMetricsFile)
}
