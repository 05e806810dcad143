package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// configPath points every command at a single config.yaml instead of the
// layered user/project lookup.
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "labelctl",
	Short: "Run and manage a local label printing service",
	Long: `labelctl brings up a label printing service on a small host: it binds
the service ports, registers USB and network label printers with CUPS and
keeps the service reachable from the internet through a tunnel.

Run 'labelctl serve' to start the daemon. The other commands talk to the
running daemon.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed connections)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v // Set cobra's version field as well
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Set up version template
	rootCmd.SetVersionTemplate(`{{printf "labelctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: layered ~/.config/labelctl and ./.labelctl)")
}
