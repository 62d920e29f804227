// Package config loads service configuration from defaults, an optional
// config file, and PITCHSIDE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Push       PushConfig       `mapstructure:"push"`
	AutoVerify AutoVerifyConfig `mapstructure:"autoverify"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port             string `mapstructure:"port"`
	AllowedOrigin    string `mapstructure:"allowed_origin"`
	MaxWSConnections int    `mapstructure:"max_ws_connections"`
	StaticDir        string `mapstructure:"static_dir"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// GeminiConfig holds oracle settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// PushConfig holds web push settings.
type PushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	VAPIDSubject    string `mapstructure:"vapid_subject"`
	BatchSeconds    int    `mapstructure:"batch_seconds"`
	Enabled         bool   `mapstructure:"enabled"`
}

// AutoVerifyConfig holds the verification scheduler settings.
type AutoVerifyConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// Load reads configuration from file and env. Env var overrides use prefix
// PITCHSIDE_ (e.g. PITCHSIDE_SERVER_PORT).
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("server.max_ws_connections", 100)
	v.SetDefault("server.static_dir", "./web")
	v.SetDefault("database.path", "./data/pitchside.db")
	v.SetDefault("gemini.api_key", os.Getenv("GEMINI_API_KEY"))
	v.SetDefault("gemini.model", "gemini-3-flash-preview")
	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.vapid_subject", "")
	v.SetDefault("push.batch_seconds", 60)
	v.SetDefault("push.enabled", true)
	v.SetDefault("autoverify.enabled", false)
	v.SetDefault("autoverify.interval_minutes", 30)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("PITCHSIDE_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pitchside")
	}

	v.SetEnvPrefix("PITCHSIDE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
