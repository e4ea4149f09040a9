// Package config loads the CLI-layer session configuration for mailkit's
// demo commands, the way internal/model.LoadConfig does for its host
// application: Viper reads a YAML file, missing keys fall back to
// sensible defaults, and an absent file is not an error.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// AuthMode selects which SASL mechanism a client should prefer first.
type AuthMode string

const (
	AuthAuto     AuthMode = "auto" // XOAUTH2 > PLAIN > LOGIN, by capability
	AuthXOAuth2  AuthMode = "xoauth2"
	AuthPlain    AuthMode = "plain"
	AuthLogin    AuthMode = "login"
	AuthCRAMMD5  AuthMode = "cram-md5"
	AuthDigest   AuthMode = "digest-md5"
)

// IMAPConfig mirrors the session-level knobs spec §3's config carries.
type IMAPConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	UseTLS         bool          `mapstructure:"use_tls" yaml:"use_tls"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	AuthMode       AuthMode      `mapstructure:"auth_mode" yaml:"auth_mode"`
	SearchLimit    int           `mapstructure:"search_limit" yaml:"search_limit"`
	RecentSort     bool          `mapstructure:"recent_sort" yaml:"recent_sort"`
	ReadOnlyMode   bool          `mapstructure:"read_only_mode" yaml:"read_only_mode"`
	PartSizeLimit  int64         `mapstructure:"part_size_limit" yaml:"part_size_limit"`
	UseAutoClient  bool          `mapstructure:"use_auto_client" yaml:"use_auto_client"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// SMTPConfig mirrors the SMTP submission session's knobs.
type SMTPConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	UseTLS         bool          `mapstructure:"use_tls" yaml:"use_tls"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	AuthMode       AuthMode      `mapstructure:"auth_mode" yaml:"auth_mode"`
	Domain         string        `mapstructure:"domain" yaml:"domain"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// AppConfig is the top-level configuration a CLI demo loads.
type AppConfig struct {
	LogLevel string     `mapstructure:"log_level" yaml:"log_level"`
	IMAP     IMAPConfig `mapstructure:"imap" yaml:"imap"`
	SMTP     SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
}

// DefaultConfigPath returns ~/.config/mailkit/config.yaml, following the
// same XDG-ish convention the rest of the pack's config loaders use.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailkit", "config.yaml")
}

func defaultAppConfig() *AppConfig {
	return &AppConfig{
		LogLevel: "info",
		IMAP: IMAPConfig{
			Port:           993,
			UseTLS:         true,
			AuthMode:       AuthAuto,
			SearchLimit:    20,
			RecentSort:     true,
			ReadOnlyMode:   true,
			PartSizeLimit:  1 << 20,
			ConnectTimeout: 3 * time.Second,
			ReadTimeout:    120 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    29 * time.Minute,
		},
		SMTP: SMTPConfig{
			Port:           587,
			UseTLS:         false,
			AuthMode:       AuthAuto,
			ConnectTimeout: 3 * time.Second,
			ReadTimeout:    120 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
	}
}

// LoadConfig reads path with Viper, falling back to defaults for any
// missing keys and for a missing file entirely.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("log_level", "info")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.use_tls", true)
	v.SetDefault("imap.auth_mode", string(AuthAuto))
	v.SetDefault("imap.search_limit", 20)
	v.SetDefault("imap.recent_sort", true)
	v.SetDefault("imap.read_only_mode", true)
	v.SetDefault("imap.part_size_limit", int64(1<<20))
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.auth_mode", string(AuthAuto))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		if os.IsNotExist(err) {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.IMAP.PartSizeLimit <= 0 {
		cfg.IMAP.PartSizeLimit = 1 << 20
	}
	if cfg.IMAP.PartSizeLimit > 5<<20 {
		cfg.IMAP.PartSizeLimit = 5 << 20
	}
	return cfg, nil
}
