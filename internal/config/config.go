// Package config holds the runtime settings of jx.
//
// Precedence: explicitly set flags > JX_* environment variables > jx.yaml > defaults.
// Flags are applied by the command layer; this package covers the rest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Defaults for every known key.
var defaults = map[string]any{
	"manifest":         "manifest.json",
	"workers":          4,
	"log-file":         filepath.Join("logs", "jx.log"),
	"log-level":        "info",
	"verbose":          false,
	"json":             false,
	"links":            "reconcile",
	"db-retries":       5,
	"db-retry-backoff": 50 * time.Millisecond,
	"jira-timeout":     60 * time.Second,
	"page-size":        100,
}

// Initialize sets up viper: defaults, environment binding and the optional config
// file. A missing config file is not an error.
func Initialize() error {
	v = viper.New()
	v.SetConfigName("jx")
	v.SetConfigType("yaml")

	// .jx/ in the working directory first, then the working directory, then the user config dir
	v.AddConfigPath(".jx")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "jx"))
	}

	v.SetEnvPrefix("JX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}

// ConfigFileUsed returns the config file that was read, if any.
func ConfigFileUsed() string {
	ensure()
	return v.ConfigFileUsed()
}

// GetString returns a string setting.
func GetString(key string) string {
	ensure()
	return v.GetString(key)
}

// GetInt returns an integer setting.
func GetInt(key string) int {
	ensure()
	return v.GetInt(key)
}

// GetBool returns a boolean setting.
func GetBool(key string) bool {
	ensure()
	return v.GetBool(key)
}

// GetDuration returns a duration setting ("500ms", "10s").
func GetDuration(key string) time.Duration {
	ensure()
	return v.GetDuration(key)
}

// Set overrides a setting for the rest of the process.
func Set(key string, value any) {
	ensure()
	v.Set(key, value)
}

// AllSettings returns the effective settings, used by doctor output.
func AllSettings() map[string]any {
	ensure()
	return v.AllSettings()
}
