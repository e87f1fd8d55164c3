package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP API listen settings.
type ServerConfig struct {
	// Listen is the address the JSON API binds to.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// StorageConfig holds local persistence settings.
type StorageConfig struct {
	// Path is the local SQLite database file. Empty means the default
	// under the user config directory.
	Path string `mapstructure:"path" yaml:"path"`
}

// CloudConfig holds the optional cloud sync settings. Sync is enabled
// only when both the task table DSN and the auth service URL are set;
// otherwise the app runs anonymous/local-only.
type CloudConfig struct {
	// DSN is the Postgres connection string for the remote task table.
	DSN string `mapstructure:"dsn" yaml:"dsn"`

	// AuthURL is the base URL of the magic-link auth service.
	AuthURL string `mapstructure:"auth_url" yaml:"auth_url"`
}

// CalendarConfig holds calendar display preferences.
type CalendarConfig struct {
	// Timezone is the IANA zone used to derive day keys and grids
	// (e.g. "Asia/Shanghai"). Empty means the process-local zone.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Cloud    CloudConfig    `mapstructure:"cloud" yaml:"cloud"`
	Calendar CalendarConfig `mapstructure:"calendar" yaml:"calendar"`
}

// CloudEnabled reports whether remote sync is configured.
func (c *AppConfig) CloudEnabled() bool {
	return c.Cloud.DSN != "" && c.Cloud.AuthURL != ""
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/lunacal/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "lunacal", "config.yaml")
}

// DefaultStoragePath returns the default local database location,
// ~/.config/lunacal/tasks.db.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "tasks.db")
	}
	return filepath.Join(home, ".config", "lunacal", "tasks.db")
}

// defaultAppConfig returns a sensible default configuration:
// local-only, loopback listener.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server:  ServerConfig{Listen: "127.0.0.1:8484"},
		Storage: StorageConfig{Path: DefaultStoragePath()},
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. If the file does not exist, it returns the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("server.listen", "127.0.0.1:8484")
	v.SetDefault("storage.path", DefaultStoragePath())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath()
	}

	return cfg, nil
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
	v.Set("storage", cfg.Storage)
	v.Set("cloud", cfg.Cloud)
	v.Set("calendar", cfg.Calendar)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
