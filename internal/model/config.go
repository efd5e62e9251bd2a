package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Credential backends.
const (
	CredentialBackendKeyring = "keyring"
	CredentialBackendRedis   = "redis"
)

// ServerConfig points the client at the web application's API.
type ServerConfig struct {
	// BaseURL is the scheme and host of the web application.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`

	// APIPrefix is the versioned path every endpoint lives under.
	APIPrefix string `mapstructure:"api_prefix" yaml:"api_prefix" validate:"required,startswith=/"`

	// TimeoutSec bounds a single API call.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec" validate:"gte=1"`
}

// RedisConfig holds connection settings for the redis credential backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
}

// AuthConfig controls where the bearer token is persisted.
type AuthConfig struct {
	// CredentialBackend selects the durable token store.
	CredentialBackend string `mapstructure:"credential_backend" yaml:"credential_backend" validate:"oneof=keyring redis"`

	// StorageKey is the well-known key the token is stored under.
	StorageKey string `mapstructure:"storage_key" yaml:"storage_key" validate:"required"`

	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// AccessConfig tunes role-based screen gating.
type AccessConfig struct {
	// CaseInsensitiveRoles switches role matching from exact to case-folded.
	CaseInsensitiveRoles bool `mapstructure:"case_insensitive_roles" yaml:"case_insensitive_roles"`

	// SettingsRoles may open the project settings screen.
	SettingsRoles []string `mapstructure:"settings_roles" yaml:"settings_roles"`
}

// NotificationsConfig holds inbox polling preferences.
type NotificationsConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec" validate:"gte=1"`
}

// CacheConfig locates the local SQLite mirror.
type CacheConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds zap logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	File   string `mapstructure:"file" yaml:"file"`
}

// DisplayConfig holds UI/rendering preferences. Theme "default" follows
// the terminal background; "dark" and "light" force one palette.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme" validate:"omitempty,oneof=default dark light"`
}

// MetricsConfig enables the local Prometheus endpoint.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Auth          AuthConfig          `mapstructure:"auth" yaml:"auth"`
	Access        AccessConfig        `mapstructure:"access" yaml:"access"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Cache         CacheConfig         `mapstructure:"cache" yaml:"cache"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Display       DisplayConfig       `mapstructure:"display" yaml:"display"`
	Metrics       MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
}

// ConfigDir returns ~/.config/taskdesk, falling back to the working
// directory when the home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "taskdesk")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/taskdesk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL:    "http://localhost:8000",
			APIPrefix:  "/api/v1",
			TimeoutSec: 30,
		},
		Auth: AuthConfig{
			CredentialBackend: CredentialBackendKeyring,
			StorageKey:        "auth_token",
			Redis:             RedisConfig{Addr: "127.0.0.1:6379"},
		},
		Access: AccessConfig{
			SettingsRoles: []string{"admin"},
		},
		Notifications: NotificationsConfig{PollIntervalSec: 30},
		Cache:         CacheConfig{Path: filepath.Join(ConfigDir(), "cache.db")},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			File:   filepath.Join(ConfigDir(), "taskdesk.log"),
		},
		Display: DisplayConfig{Theme: "default"},
	}
}

// setDefaults mirrors defaultAppConfig into v so missing keys resolve to
// sensible values and env overrides have a key to bind to.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.api_prefix", d.Server.APIPrefix)
	v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	v.SetDefault("auth.credential_backend", d.Auth.CredentialBackend)
	v.SetDefault("auth.storage_key", d.Auth.StorageKey)
	v.SetDefault("auth.redis.addr", d.Auth.Redis.Addr)
	v.SetDefault("auth.redis.password", "")
	v.SetDefault("auth.redis.db", 0)
	v.SetDefault("access.case_insensitive_roles", false)
	v.SetDefault("access.settings_roles", d.Access.SettingsRoles)
	v.SetDefault("notifications.poll_interval_sec", d.Notifications.PollIntervalSec)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("metrics.listen", "")
}

// NewViper returns a viper instance with defaults and TASKDESK_* env
// overrides applied, ready for flags to be bound before LoadConfig.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("taskdesk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults (plus env and flag overrides) apply.
func LoadConfig(path string) (*AppConfig, error) {
	return LoadConfigWith(NewViper(), path)
}

// LoadConfigWith is LoadConfig on a caller-prepared viper instance, so
// command-line flags bound to v take precedence over the file.
func LoadConfigWith(v *viper.Viper, path string) (*AppConfig, error) {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	if cfg.Notifications.PollIntervalSec == 0 {
		cfg.Notifications.PollIntervalSec = 30
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks struct constraints on the loaded configuration.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Auth.CredentialBackend == CredentialBackendRedis && c.Auth.Redis.Addr == "" {
		return fmt.Errorf("auth.redis.addr is required for the redis backend")
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("auth", cfg.Auth)
	v.Set("access", cfg.Access)
	v.Set("notifications", cfg.Notifications)
	v.Set("cache", cfg.Cache)
	v.Set("log", cfg.Log)
	v.Set("display", cfg.Display)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
