package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all bridge configuration.
type Config struct {
	Packager PackagerConfig `toml:"packager"`
	Storage  StorageConfig  `toml:"storage"`
	Logging  LogConfig      `toml:"logging"`
}

// PackagerConfig holds debug-proxy connection settings.
type PackagerConfig struct {
	Host string `envconfig:"RN_PACKAGER_HOST" default:"localhost" toml:"host"`
	Port int    `envconfig:"RN_PACKAGER_PORT" default:"8081" toml:"port"`
}

// StorageConfig holds local cache settings.
type StorageConfig struct {
	Dir          string `envconfig:"RN_STORAGE_DIR" default:".react-native" toml:"dir"`
	BundleSuffix string `envconfig:"RN_BUNDLE_SUFFIX" default:"android" toml:"bundle_suffix"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"RN_LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"RN_LOG_DEV" default:"false" toml:"development"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from the environment and layers the values
// from a TOML file on top. Keys absent from the file keep their
// environment/default values.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Packager: PackagerConfig{
			Host: "localhost",
			Port: 8081,
		},
		Storage: StorageConfig{
			Dir:          ".react-native",
			BundleSuffix: "android",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
