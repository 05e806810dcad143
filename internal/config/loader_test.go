package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPaths points the loader at tempDir and restores the originals on cleanup.
func mockPaths(t *testing.T, tempDir string) {
	t.Helper()
	origUser, origProject, origHome := getUserConfigPath, getProjectConfigPath, osUserHomeDir
	t.Cleanup(func() {
		getUserConfigPath = origUser
		getProjectConfigPath = origProject
		osUserHomeDir = origHome
	})
	osUserHomeDir = func() (string, error) { return tempDir, nil }
	getUserConfigPath = func() (string, error) {
		return filepath.Join(tempDir, userConfigDir, configFileName), nil
	}
	getProjectConfigPath = func() (string, error) {
		return filepath.Join(tempDir, "project", projectConfigDir, configFileName), nil
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	tempDir := t.TempDir()
	mockPaths(t, tempDir)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	def := GetDefaultConfig()
	assert.Equal(t, def.Services, cfg.Services)
	assert.Equal(t, def.Spooler, cfg.Spooler)
	assert.Equal(t, ProviderCloudflareNamed, cfg.Tunnel.Provider)
	assert.Equal(t, filepath.Join(tempDir, userDataDir), cfg.DataDir)
	assert.Equal(t, filepath.Join(tempDir, ".cloudflared"), cfg.Tunnel.CloudflaredDir)
	assert.Equal(t, filepath.Join(tempDir, userDataDir, "labelctl.db"), cfg.DatabasePath())
}

func TestLoadConfig_UserAndProjectOverride(t *testing.T) {
	tempDir := t.TempDir()
	mockPaths(t, tempDir)

	writeFile(t, filepath.Join(tempDir, userConfigDir, configFileName), `
tunnel:
  provider: ngrok
  probeDelay: 1s
spooler:
  vendorTokens: ["zebra", "zd"]
`)
	writeFile(t, filepath.Join(tempDir, "project", projectConfigDir, configFileName), `
services:
  - name: api
    port: 6000
  - name: metrics
    port: 9100
tunnel:
  domain: print.example.com
`)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ProviderNgrok, cfg.Tunnel.Provider)
	assert.Equal(t, time.Second, cfg.Tunnel.ProbeDelay)
	assert.Equal(t, "print.example.com", cfg.Tunnel.Domain)
	assert.Equal(t, []string{"zebra", "zd"}, cfg.Spooler.VendorTokens)
	assert.Equal(t, 5, cfg.Tunnel.ProbeAttempts, "unset fields keep defaults")

	api, ok := cfg.ServiceByName(ServiceAPI)
	require.True(t, ok)
	assert.Equal(t, 6000, api.Port)
	_, ok = cfg.ServiceByName("metrics")
	assert.True(t, ok)
}

func TestLoadConfig_EnvironmentOverlay(t *testing.T) {
	tempDir := t.TempDir()
	mockPaths(t, tempDir)

	t.Setenv("LABELCTL_DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LABELCTL_PROVIDER", ProviderCloudflareQuick)
	t.Setenv("LABELCTL_API_PORT", "5050")
	t.Setenv("LABELCTL_NGROK_AUTHTOKEN", "secret-token")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tempDir, "data"), cfg.DataDir)
	assert.Equal(t, ProviderCloudflareQuick, cfg.Tunnel.Provider)
	api, _ := cfg.ServiceByName(ServiceAPI)
	assert.Equal(t, 5050, api.Port)
	assert.Equal(t, "secret-token", cfg.Credentials.NgrokAuthtoken)
}

func TestLoadConfigFromPath(t *testing.T) {
	tempDir := t.TempDir()
	mockPaths(t, tempDir)

	path := filepath.Join(tempDir, "custom.yaml")
	writeFile(t, path, "control:\n  port: 9999\n")

	cfg, err := LoadConfigFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Control.Port)
	assert.Equal(t, "127.0.0.1", cfg.Control.Host)

	_, err = LoadConfigFromPath(filepath.Join(tempDir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	mockPaths(t, tempDir)
	writeFile(t, filepath.Join(tempDir, userConfigDir, configFileName), "services: [:::")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *LabelctlConfig)
		wantErr string
	}{
		{"defaults are valid", func(c *LabelctlConfig) {}, ""},
		{"duplicate service", func(c *LabelctlConfig) {
			c.Services = append(c.Services, ServicePort{Name: ServiceAPI, Port: 1})
		}, "declared twice"},
		{"port out of range", func(c *LabelctlConfig) { c.Services[0].Port = 70000 }, "out of range"},
		{"ceiling below port", func(c *LabelctlConfig) { c.Services[0].Ceiling = 10 }, "ceiling"},
		{"bad protocol", func(c *LabelctlConfig) { c.Services[0].Protocol = "sctp" }, "unsupported protocol"},
		{"reserved control", func(c *LabelctlConfig) {
			c.Services = append(c.Services, ServicePort{Name: ServiceControl, Port: 8000})
		}, "reserved"},
		{"unknown provider", func(c *LabelctlConfig) { c.Tunnel.Provider = "frp" }, "unknown tunnel provider"},
		{"no probes", func(c *LabelctlConfig) { c.Tunnel.ProbeAttempts = 0 }, "probeAttempts"},
		{"dangling local service", func(c *LabelctlConfig) { c.Tunnel.LocalService = "web" }, "localService"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergeConfigs_DoesNotAliasBase(t *testing.T) {
	base := GetDefaultConfig()
	overlay := LabelctlConfig{Services: []ServicePort{{Name: ServiceAPI, Port: 7000}}}

	merged := mergeConfigs(base, overlay)

	assert.Equal(t, 7000, merged.Services[0].Port)
	assert.Equal(t, 5000, base.Services[0].Port)
}
