package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfUpdateCommand(t *testing.T) {
	c := newSelfUpdateCmd()
	assert.Equal(t, "self-update", c.Use)
	assert.NotEmpty(t, c.Short)
	assert.Contains(t, c.Long, "Checks for the latest release of labelctl")
	assert.NotNil(t, c.RunE)
	assert.Error(t, c.Args(c, []string{"v1.2.3"}), "self-update takes no arguments")
	assert.Equal(t, "labelctl/labelctl", githubRepoSlug)
}

func TestSelfUpdateRefusesUnreleasedBuilds(t *testing.T) {
	original := rootCmd.Version
	t.Cleanup(func() { rootCmd.Version = original })

	for _, version := range []string{"", "dev"} {
		t.Run("version "+version, func(t *testing.T) {
			rootCmd.Version = version
			err := runSelfUpdate(nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "cannot self-update a development version")
		})
	}
}

func TestSelfUpdateHelp(t *testing.T) {
	c := newSelfUpdateCmd()
	var buf bytes.Buffer
	c.SetOut(&buf)
	c.SetErr(&buf)
	c.SetArgs([]string{"--help"})

	require.NoError(t, c.Execute())
	assert.Contains(t, buf.String(), "Checks for the latest release")
	assert.Contains(t, buf.String(), "self-update")
}
