package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "labelctl", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.Contains(t, rootCmd.Long, "labelctl serve")
	assert.True(t, rootCmd.SilenceUsage)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestVersionOutput(t *testing.T) {
	original := rootCmd.Version
	t.Cleanup(func() { rootCmd.Version = original })

	SetVersion("2.0.0")
	assert.Equal(t, "2.0.0", rootCmd.Version)

	var buf bytes.Buffer
	versionCmd := newVersionCmd()
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "labelctl version 2.0.0\n", buf.String())

	// --version on the root command uses the same wording.
	flagCmd := &cobra.Command{Use: "labelctl", Version: "2.0.0", Run: func(*cobra.Command, []string) {}}
	flagCmd.SetVersionTemplate(`{{printf "labelctl version %s\n" .Version}}`)
	buf.Reset()
	flagCmd.SetOut(&buf)
	flagCmd.SetArgs([]string{"--version"})
	require.NoError(t, flagCmd.Execute())
	assert.Equal(t, "labelctl version 2.0.0\n", buf.String())
}

func TestSubcommands(t *testing.T) {
	names := func(parent *cobra.Command) []string {
		var out []string
		for _, c := range parent.Commands() {
			out = append(out, c.Name())
		}
		return out
	}

	assert.Subset(t, names(rootCmd), []string{"version", "self-update", "serve", "status", "ports", "printer", "tunnel"})
	assert.Subset(t, names(printerCmd), []string{"list", "rescan", "remove"})
	assert.Subset(t, names(tunnelCmd), []string{"list", "set-domain", "configure", "start", "stop"})
}

func TestServeFlags(t *testing.T) {
	require.NotNil(t, serveCmd.Flags().Lookup("debug"))
	tui := serveCmd.Flags().Lookup("tui")
	require.NotNil(t, tui)
	assert.Equal(t, "false", tui.DefValue, "serve runs headless by default")
}

func TestRootCommandHelp(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"--help"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "label printing service")
}
