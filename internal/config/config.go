// Package config loads and validates previewd configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	OEmbed   OEmbedConfig   `mapstructure:"oembed"`
	Redirect RedirectConfig `mapstructure:"redirect"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CacheConfig governs the preview cache and its persistence.
type CacheConfig struct {
	TTLHours int    `mapstructure:"ttl_hours"`
	Path     string `mapstructure:"path"`
}

// FetchConfig bounds the network fetch path.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	UserAgent      string `mapstructure:"user_agent"`
}

// OEmbedConfig points at the social oEmbed endpoint.
type OEmbedConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// RedirectConfig governs the redirect resolver.
type RedirectConfig struct {
	CacheSize           int `mapstructure:"cache_size"`
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PREVIEWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("cache.ttl_hours", 168)
	v.SetDefault("cache.path", defaultCachePath())
	v.SetDefault("fetch.timeout_seconds", 7)
	v.SetDefault("fetch.max_body_bytes", 64*1024)
	v.SetDefault("fetch.user_agent", "previewd/0.1 (+https://github.com/hrayleung/previewd)")
	v.SetDefault("oembed.endpoint", "https://publish.twitter.com/oembed")
	v.SetDefault("redirect.cache_size", 512)
	v.SetDefault("redirect.probe_timeout_seconds", 7)
	v.SetDefault("logging.development", false)
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".previewd", "previews.json")
	}
	return filepath.Join(dir, "previewd", "previews.json")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Cache.TTLHours <= 0 {
		return fmt.Errorf("cache.ttl_hours must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if c.OEmbed.Endpoint == "" {
		return fmt.Errorf("oembed.endpoint must be set")
	}
	if c.Redirect.CacheSize <= 0 {
		return fmt.Errorf("redirect.cache_size must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CacheTTL converts the configured TTL into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// FetchTimeout converts the configured fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ProbeTimeout converts the configured redirect probe timeout into a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Redirect.ProbeTimeoutSeconds) * time.Second
}
