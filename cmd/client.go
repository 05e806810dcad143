package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"labelctl/internal/cli"
	"labelctl/internal/config"
	"labelctl/pkg/logging"
)

var (
	outputFormat string
	quiet        bool
)

// addOutputFlags registers the output flags shared by commands that print
// daemon responses.
func addOutputFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
}

// loadClientConfig loads the same configuration the daemon would, so the
// control endpoint can be found from its data directory.
func loadClientConfig() (config.LabelctlConfig, error) {
	// Client commands only surface problems.
	logging.InitForCLI(logging.LevelWarn, os.Stderr)

	if configPath != "" {
		return config.LoadConfigFromPath(configPath)
	}
	return config.LoadConfig()
}

// withExecutor connects to the daemon and hands the executor to fn.
func withExecutor(cmd *cobra.Command, fn func(ctx context.Context, e *cli.ToolExecutor) error) error {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	cfg, err := loadClientConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	executor, err := cli.NewToolExecutor(cfg, cli.ExecutorOptions{
		Format: format,
		Quiet:  quiet,
		Out:    cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer executor.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := executor.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, executor)
}

// runTool is the RunE body of commands mapping one-to-one onto a daemon tool.
func runTool(cmd *cobra.Command, tool string, args map[string]interface{}) error {
	return withExecutor(cmd, func(ctx context.Context, e *cli.ToolExecutor) error {
		return e.Execute(ctx, tool, args)
	})
}
