package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage drivers accepted in DataConfig.Driver.
const (
	DriverJSON    = "json"
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, needs cgo
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
)

// Config represents the application configuration
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Provider ProviderConfig `yaml:"provider"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// DataConfig represents data storage configuration
type DataConfig struct {
	Dir    string `yaml:"dir" env:"COMPANION_DATA_DIR"`
	Driver string `yaml:"driver" env:"COMPANION_DATA_DRIVER"`
}

// ServerConfig controls the local API the UI talks to.
type ServerConfig struct {
	Address string `yaml:"address" env:"COMPANION_SERVER_ADDRESS"`
	Port    int    `yaml:"port" env:"COMPANION_SERVER_PORT"`
}

// LogConfig controls the application log.
type LogConfig struct {
	Level string `yaml:"level" env:"COMPANION_LOG_LEVEL"`
	Path  string `yaml:"path" env:"COMPANION_LOG_PATH"`
}

// ProviderConfig holds transport settings shared by both chat backends.
// API credentials live in the settings document, not here.
type ProviderConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" env:"COMPANION_PROVIDER_TIMEOUT_SECONDS"`
}

// NotifyConfig toggles OS notifications globally.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled" env:"COMPANION_NOTIFY_ENABLED"`
}

// Timeout returns the provider timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir:    defaultDataDir(),
			Driver: DriverJSON,
		},
		Server: ServerConfig{
			Address: "127.0.0.1",
			Port:    8765,
		},
		Log: LogConfig{
			Level: "info",
			Path:  GetLogPath(),
		},
		Provider: ProviderConfig{
			TimeoutSeconds: 120,
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
	}
}

// LoadConfig loads configuration from file, then applies COMPANION_* environment overrides.
// A missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Expand paths
	config.Data.Dir = expandPath(config.Data.Dir)
	if config.Log.Path != "" {
		config.Log.Path = expandPath(config.Log.Path)
	}

	return config, nil
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	switch c.Data.Driver {
	case DriverJSON, DriverSQLite3, DriverSQLite:
	default:
		return fmt.Errorf("unknown data driver %q (valid: json, sqlite3, sqlite)", c.Data.Driver)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(configPath string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ and relative paths
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	// Expand ~
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	// Make absolute
	absPath, err := filepath.Abs(path)
	if err == nil {
		return absPath
	}

	return path
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(dir, "companion-agent")
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	// Try to get user config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fallback to current directory
		return "./config/config.yaml"
	}

	return filepath.Join(configDir, "companion-agent", "config.yaml")
}

// EnsureDefaultConfig creates a default config file if it doesn't exist
func EnsureDefaultConfig() (string, error) {
	configPath := GetConfigPath()

	// Check if config exists
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	}

	if err := SaveConfig(configPath, DefaultConfig()); err != nil {
		return "", err
	}

	return configPath, nil
}
