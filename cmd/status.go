package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"labelctl/internal/api"
	"labelctl/internal/cli"
	"labelctl/internal/tui"
	"labelctl/pkg/logging"
)

var (
	statusWatch    bool
	statusInterval time.Duration
)

// statusCmd shows the daemon's status snapshot
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ports, printer and tunnel status",
	Long: `Show the status of the running daemon: the bound ports, the default
printer and the tunnel that makes the service reachable.

With --watch the status is shown in an interactive dashboard that refreshes
until you quit. Press 'r' to rescan printers and 'c' to copy the public URL.

Note: the daemon must be running (use 'labelctl serve') before using this command.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addOutputFlags(statusCmd)

	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Watch the status in an interactive dashboard")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "Refresh interval for --watch")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if !statusWatch {
		return runTool(cmd, api.ToolStatus, nil)
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	// Log lines would tear through the alternate screen.
	logging.InitForCLI(logging.LevelError, io.Discard)

	client, err := cli.NewCLIClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}

	return tui.Run(ctx, client, tui.Options{
		RefreshInterval: statusInterval,
		Title:           "labelctl " + client.Endpoint(),
	})
}
