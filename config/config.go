// Package config loads player configuration from a config file and
// defaults, via viper. The library packages take their configuration as
// explicit options; this is only for the cadence binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the tunables of the playback pipeline and the player binary.
type Config struct {
	PresentInterval time.Duration `mapstructure:"presentInterval"`
	QueueCapacity   int           `mapstructure:"queueCapacity"`
	LowWaterMark    int           `mapstructure:"lowWaterMark"`
	DropThreshold   time.Duration `mapstructure:"dropThreshold"`
	FastSeek        bool          `mapstructure:"fastSeek"`
	ResumeDB        string        `mapstructure:"resumeDB"`
	SavePositions   bool          `mapstructure:"savePositions"`
}

// Load reads cadence.yml from the working directory or the user config
// directory, falling back to defaults when no file exists.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("cadence")
	v.SetConfigType("yml")
	v.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(configDir, "cadence"))
	}

	v.SetDefault("presentInterval", 16*time.Millisecond)
	v.SetDefault("queueCapacity", 4)
	v.SetDefault("lowWaterMark", 2)
	v.SetDefault("dropThreshold", 20*time.Millisecond)
	v.SetDefault("fastSeek", false)
	v.SetDefault("resumeDB", defaultResumePath(configDir, err))
	v.SetDefault("savePositions", true)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("config: read: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func defaultResumePath(configDir string, err error) string {
	if err != nil {
		return "cadence-resume.db"
	}
	return filepath.Join(configDir, "cadence", "resume.db")
}
