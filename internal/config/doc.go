// Package config provides 12-factor configuration management for the
// debugger bridge.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional TOML file can be layered on top for workspace-local overrides,
// and CLI flags override both.
//
// Configuration Sections:
//   - Packager: debug-proxy host and port
//   - Storage: local directory for cached bundles and sourcemaps
//   - Logging: log level and output format
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Packager at %s:%d\n", cfg.Packager.Host, cfg.Packager.Port)
//
// Environment Variables:
//   - RN_PACKAGER_HOST, RN_PACKAGER_PORT
//   - RN_STORAGE_DIR, RN_BUNDLE_SUFFIX
//   - RN_LOG_LEVEL, RN_LOG_DEV
package config
