package cmd

import (
	"github.com/spf13/cobra"

	"labelctl/internal/api"
)

// printerCmd represents the printer command
var printerCmd = &cobra.Command{
	Use:   "printer",
	Short: "Manage label printers",
	Long: `Manage the label printers registered with the print spooler.

Available commands:
  list     - List registered printers with their spooler state
  rescan   - Discover printers and register queues for new ones
  remove   - Forget a registered printer

Note: the daemon must be running (use 'labelctl serve') before using these commands.`,
}

var printerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered printers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, api.ToolPrinterList, nil)
	},
}

var printerRescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Discover printers and register new ones",
	Long: `Ask the spooler for attached devices, keep the label printers among
them and create a queue for every one not registered yet. Queues that
already exist in the spooler are adopted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, api.ToolPrinterRescan, nil)
	},
}

var printerRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Forget a registered printer",
	Long: `Remove a printer from labelctl's records. The spooler queue is left in
place; the next rescan adopts it again while the device is attached.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, api.ToolPrinterRemove, map[string]interface{}{"name": args[0]})
	},
}

func init() {
	rootCmd.AddCommand(printerCmd)

	printerCmd.AddCommand(printerListCmd)
	printerCmd.AddCommand(printerRescanCmd)
	printerCmd.AddCommand(printerRemoveCmd)

	addOutputFlags(printerCmd)
}
