package config

import (
	"time"
)

// GetDefaultConfig returns the built-in configuration.
// DataDir is left empty and resolved by the loader.
func GetDefaultConfig() LabelctlConfig {
	return LabelctlConfig{
		LogLevel: "info",
		Services: []ServicePort{
			{Name: ServiceAPI, Port: 5000, Protocol: "tcp"},
		},
		Spooler: SpoolerConfig{
			ReadyTimeout:      30 * time.Second,
			ReadyPollInterval: time.Second,
			CommandTimeout:    10 * time.Second,
			VendorTokens:      []string{"zebra"},
			Driver:            "raw",
			RescanSchedule:    "@every 1m",
		},
		Tunnel: TunnelSettings{
			Provider:         ProviderCloudflareNamed,
			TunnelName:       "labelctl",
			LocalService:     ServiceAPI,
			HealthPath:       "/health",
			ProbeAttempts:    5,
			ProbeDelay:       3 * time.Second,
			ProbeTimeout:     5 * time.Second,
			LivenessInterval: 30 * time.Second,
			URLTimeout:       30 * time.Second,
			StopGracePeriod:  5 * time.Second,
			MaxRestarts:      5,
			RestartBackoff:   2 * time.Second,
			CloudflaredPath:  "cloudflared",
			NgrokPath:        "ngrok",
			NgrokRegion:      "us",
			NgrokAPIURL:      "http://127.0.0.1:4040/api/tunnels",
		},
		Control: ControlConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
	}
}
