package app

import (
	"context"
	"fmt"
	"os"

	"labelctl/internal/config"
	"labelctl/pkg/logging"
)

// Application is the main application structure that bootstraps and runs the labelctl daemon
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration and builds the daemon's services
func NewApplication(cfg *Config) (*Application, error) {
	// Initialize logging for CLI output (will be replaced for TUI mode)
	logging.InitForCLI(cfg.logLevel(), os.Stderr)

	var labelCfg config.LabelctlConfig
	var err error

	if cfg.ConfigPath != "" {
		labelCfg, err = config.LoadConfigFromPath(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load labelctl configuration from path: %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load labelctl configuration from path %s: %w", cfg.ConfigPath, err)
		}
		logging.Info("Bootstrap", "Loaded configuration from custom path: %s", cfg.ConfigPath)
	} else {
		labelCfg, err = config.LoadConfig()
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load labelctl configuration")
			return nil, fmt.Errorf("failed to load labelctl configuration: %w", err)
		}
		logging.Info("Bootstrap", "Loaded configuration using layered approach")
	}

	cfg.LabelctlConfig = &labelCfg

	// The configured level is only known now.
	logging.InitForCLI(cfg.logLevel(), os.Stderr)

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Run executes the application in the appropriate mode
func (a *Application) Run(ctx context.Context) error {
	if a.config.TUI {
		return a.runTUIMode(ctx)
	}
	return a.runCLIMode(ctx)
}

// runCLIMode runs the daemon headless until it is signalled
func (a *Application) runCLIMode(ctx context.Context) error {
	return runCLIMode(ctx, a.config, a.services)
}

// runTUIMode runs the daemon with the dashboard attached
func (a *Application) runTUIMode(ctx context.Context) error {
	return runTUIMode(ctx, a.config, a.services)
}
