package app

import (
	"labelctl/internal/config"
	"labelctl/pkg/logging"
)

// Config holds the application configuration
type Config struct {
	// UI mode
	TUI bool

	// Debug settings
	Debug bool

	// ConfigPath points at a single config.yaml instead of the layered lookup.
	ConfigPath string

	// Version is reported by the control endpoint.
	Version string

	// Labelctl configuration, filled in by NewApplication
	LabelctlConfig *config.LabelctlConfig
}

// NewConfig creates a new application configuration
func NewConfig(tui, debug bool, configPath, version string) *Config {
	return &Config{
		TUI:        tui,
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}

// logLevel resolves the effective level: --debug wins over the configured one.
func (c *Config) logLevel() logging.LogLevel {
	if c.Debug {
		return logging.LevelDebug
	}
	if c.LabelctlConfig != nil && c.LabelctlConfig.LogLevel != "" {
		return logging.ParseLevel(c.LabelctlConfig.LogLevel)
	}
	return logging.LevelInfo
}
