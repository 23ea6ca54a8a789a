// Package brand provides centralized naming constants for tablectl.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name            = "tablectl"
	LowerName       = "tablectl"
	Description     = "Firewall address-table manager"
	ConfigEnvPrefix = "TABLECTL"
	ConfigFileName  = "tablectl.hcl"
)

// DefaultConfigDir is where the configuration file lives unless overridden.
var DefaultConfigDir = "/etc/tablectl"

// Version is set at build time via -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// GetConfigDir returns the config directory, checking env vars first.
// Priority: TABLECTL_CONFIG_DIR > TABLECTL_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// DefaultConfigPath returns the full path of the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// UserAgent returns a User-Agent string for outbound requests.
func UserAgent() string {
	return Name + "/" + Version
}
