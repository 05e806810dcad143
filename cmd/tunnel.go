package cmd

import (
	"github.com/spf13/cobra"

	"labelctl/internal/api"
)

var tunnelCredential string

// tunnelCmd represents the tunnel command
var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Manage public tunnels",
	Long: `Manage the tunnels that make the label service reachable from the internet.

Providers:
  cloudflare_named  - a named Cloudflare tunnel serving your own domain
  cloudflare_quick  - an ephemeral trycloudflare.com URL, no account needed
  ngrok             - an ngrok tunnel

Available commands:
  list        - List tunnels with their state and public URL
  set-domain  - Set the public domain of a named tunnel
  configure   - Attach credentials to a provider
  start       - Start a tunnel
  stop        - Stop a tunnel

Credentials are read from the daemon's environment, e.g.
LABELCTL_CLOUDFLARE_TUNNEL_TOKEN or LABELCTL_NGROK_AUTHTOKEN.

Note: the daemon must be running (use 'labelctl serve') before using these commands.`,
}

var tunnelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tunnels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, api.ToolTunnelList, nil)
	},
}

var tunnelSetDomainCmd = &cobra.Command{
	Use:   "set-domain <provider> <domain>",
	Short: "Set the public domain of a tunnel",
	Long: `Validate and store the public domain a tunnel serves, e.g.
'labelctl tunnel set-domain cloudflare_named labels.example.com'.

Only providers serving your own domain accept one. A running tunnel keeps
its current domain until it is restarted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, api.ToolTunnelSetDomain, map[string]interface{}{
			"provider": args[0],
			"domain":   args[1],
		})
	},
}

var tunnelConfigureCmd = &cobra.Command{
	Use:   "configure <provider>",
	Short: "Attach credentials to a tunnel provider",
	Long: `Record which credential a provider uses and mark it configured.

--credential is a reference the daemon resolves at start, either
env:NAME or file:/path; the secret itself is never stored. Without it the
provider's default credential from the daemon's environment is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs := map[string]interface{}{"provider": args[0]}
		if tunnelCredential != "" {
			toolArgs["credential"] = tunnelCredential
		}
		return runTool(cmd, api.ToolTunnelConfigure, toolArgs)
	},
}

var tunnelStartCmd = &cobra.Command{
	Use:   "start <provider>",
	Short: "Start a tunnel",
	Long: `Start a tunnel and wait until its public URL answers. A failed start
leaves the tunnel FAILED with the reason in 'labelctl tunnel list'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, api.ToolTunnelStart, map[string]interface{}{"provider": args[0]})
	},
}

var tunnelStopCmd = &cobra.Command{
	Use:   "stop <provider>",
	Short: "Stop a tunnel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, api.ToolTunnelStop, map[string]interface{}{"provider": args[0]})
	},
}

func init() {
	rootCmd.AddCommand(tunnelCmd)

	tunnelCmd.AddCommand(tunnelListCmd)
	tunnelCmd.AddCommand(tunnelSetDomainCmd)
	tunnelCmd.AddCommand(tunnelConfigureCmd)
	tunnelCmd.AddCommand(tunnelStartCmd)
	tunnelCmd.AddCommand(tunnelStopCmd)

	addOutputFlags(tunnelCmd)
	tunnelConfigureCmd.Flags().StringVar(&tunnelCredential, "credential", "", "Credential reference (env:NAME or file:/path)")
}
