package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Packager config
	assert.Equal(t, "localhost", cfg.Packager.Host)
	assert.Equal(t, 8081, cfg.Packager.Port)

	// Storage config
	assert.Equal(t, ".react-native", cfg.Storage.Dir)
	assert.Equal(t, "android", cfg.Storage.BundleSuffix)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, 8081, cfg.Packager.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"RN_PACKAGER_HOST": "10.0.2.2",
		"RN_PACKAGER_PORT": "8088",
		"RN_STORAGE_DIR":   "/tmp/rn-cache",
		"RN_BUNDLE_SUFFIX": "ios",
		"RN_LOG_LEVEL":     "debug",
		"RN_LOG_DEV":       "true",
	}

	for key, value := range envVars {
		err := os.Setenv(key, value)
		require.NoError(t, err)
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "10.0.2.2", cfg.Packager.Host)
	assert.Equal(t, 8088, cfg.Packager.Port)
	assert.Equal(t, "/tmp/rn-cache", cfg.Storage.Dir)
	assert.Equal(t, "ios", cfg.Storage.BundleSuffix)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debugger.toml")
	content := `
[packager]
port = 9090

[logging]
level = "warn"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	// File values win over defaults
	assert.Equal(t, 9090, cfg.Packager.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Untouched keys keep their defaults
	assert.Equal(t, "localhost", cfg.Packager.Host)
	assert.Equal(t, ".react-native", cfg.Storage.Dir)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/debugger.toml")
	assert.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debugger.toml")
	require.NoError(t, os.WriteFile(path, []byte("[packager\nport="), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
