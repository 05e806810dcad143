package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"labelctl/internal/orchestrator"
	"labelctl/internal/tui"
	"labelctl/pkg/logging"
)

// runCLIMode executes the headless daemon until SIGINT or SIGTERM
func runCLIMode(ctx context.Context, config *Config, services *Services) error {
	logging.Info("CLI", "Running in no-TUI mode.")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := services.Start(ctx); err != nil {
		logging.Error("CLI", err, "Failed to start labelctl")
		shutdown(services)
		return err
	}

	logging.Info("CLI", "labelctl is running. Press Ctrl+C to stop.")
	<-ctx.Done()

	logging.Info("CLI", "--- Shutting down ---")
	return shutdown(services)
}

// runTUIMode runs the daemon with the dashboard attached; quitting the
// dashboard stops the daemon.
func runTUIMode(ctx context.Context, config *Config, services *Services) error {
	logging.Info("CLI", "Starting TUI mode...")

	// Switch logging to channel-based system for TUI integration
	logChan := logging.InitForTUI(config.logLevel())
	defer logging.CloseTUIChannel()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := services.Orchestrator.SubscribeToStateChanges()
	if err := services.Start(ctx); err != nil {
		logging.Error("TUI-Lifecycle", err, "Failed to start labelctl")
		shutdown(services)
		return err
	}

	err := tui.Run(ctx, localSource{orch: services.Orchestrator}, tui.Options{
		Events: events,
		Logs:   logChan,
		Title:  "labelctl " + config.Version,
	})
	if err != nil {
		logging.Error("TUI-Lifecycle", err, "Error running TUI program")
	}
	logging.Info("TUI-Lifecycle", "TUI exited.")

	if shutdownErr := shutdown(services); err == nil {
		err = shutdownErr
	}
	return err
}

func shutdown(services *Services) error {
	if err := services.Shutdown(context.Background()); err != nil {
		logging.Error("CLI", err, "Shutdown finished with errors")
		return err
	}
	return nil
}

// localSource feeds the dashboard straight from the in-process orchestrator.
type localSource struct {
	orch *orchestrator.Orchestrator
}

func (s localSource) Status(ctx context.Context) (orchestrator.Snapshot, error) {
	return s.orch.Status(ctx)
}

func (s localSource) Rescan(ctx context.Context) error {
	_, err := s.orch.Rescan(ctx)
	return err
}
