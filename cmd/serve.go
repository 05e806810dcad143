package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"labelctl/internal/app"
)

// serveTUI attaches the dashboard to the daemon.
var serveTUI bool

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveCmd starts the labelctl daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the labelctl daemon",
	Long: `Starts the labelctl daemon. On startup it:

  1. Binds the configured service ports, moving to the next free port when
     one is taken, and records the result.
  2. Waits for the CUPS scheduler to answer.
  3. Discovers label printers and registers a print queue for each one.
  4. Restarts every tunnel that was configured before.
  5. Serves the control endpoint used by the other labelctl commands.

By default the daemon runs headless and logs to stderr, which suits systemd
and containers. Use --tui to watch it in an interactive dashboard instead;
quitting the dashboard stops the daemon.

Configuration:
  labelctl loads config.yaml from ~/.config/labelctl and ./.labelctl, then
  LABELCTL_* environment variables. Use --config to load a single file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveTUI, serveDebug, configPath, rootCmd.Version)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "Show the interactive dashboard while serving")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable general debug logging")
}
