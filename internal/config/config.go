// Package config loads the service configuration from an optional YAML file
// plus SYNCD_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything syncd needs at startup.
type Config struct {
	// Listen is the gateway bind address.
	Listen string `mapstructure:"listen"`

	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path"`

	Auth AuthConfig `mapstructure:"auth"`
	Log  LogConfig  `mapstructure:"log"`
}

// AuthConfig configures the scanner auth boundary.
type AuthConfig struct {
	// TokenSecret signs the HS256 sync tokens. Required for serve and token
	// commands.
	TokenSecret string `mapstructure:"token_secret"`

	// TokenTTL bounds the lifetime of minted sync tokens.
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	// SessionCookie is the cookie name carrying the web-app session.
	SessionCookie string `mapstructure:"session_cookie"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`

	// File enables rotated file logging when set; empty logs to stderr.
	File string `mapstructure:"file"`

	// MaxSizeMB caps a log file before rotation.
	MaxSizeMB int `mapstructure:"max_size_mb"`

	// MaxBackups caps how many rotated files are kept.
	MaxBackups int `mapstructure:"max_backups"`
}

// Load reads the configuration. path may be empty, in which case syncd.yaml
// is looked up in the working directory and /etc/syncd; a missing file is
// fine, environment variables and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":8471")
	v.SetDefault("db_path", "syncd.db")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.session_cookie", "session")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)

	v.SetEnvPrefix("SYNCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("syncd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/syncd")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
