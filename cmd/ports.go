package cmd

import (
	"github.com/spf13/cobra"

	"labelctl/internal/api"
)

// portsCmd lists the port bindings the daemon recorded
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List service port bindings",
	Long: `List the port every service asked for and the port it was given.

A service moves to the next free port when its configured one is taken;
the binding is kept across restarts for as long as the port stays free.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, api.ToolPortsList, nil)
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
	addOutputFlags(portsCmd)
}
