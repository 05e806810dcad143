package config

import (
	"time"
)

// Provider names understood by the tunnel package.
const (
	ProviderCloudflareNamed = "cloudflare_named"
	ProviderCloudflareQuick = "cloudflare_quick"
	ProviderNgrok           = "ngrok"
)

// Well-known service names for port allocation.
const (
	ServiceAPI     = "api"
	ServiceControl = "control"
)

// LabelctlConfig is the top-level configuration structure for labelctl.
type LabelctlConfig struct {
	DataDir  string         `yaml:"dataDir,omitempty"`
	LogLevel string         `yaml:"logLevel,omitempty"`
	Services []ServicePort  `yaml:"services,omitempty"`
	Spooler  SpoolerConfig  `yaml:"spooler,omitempty"`
	Tunnel   TunnelSettings `yaml:"tunnel,omitempty"`
	Control  ControlConfig  `yaml:"control,omitempty"`

	// Credentials are only populated from the environment.
	Credentials Credentials `yaml:"-"`
}

// ServicePort asks the port allocator for a listening port.
type ServicePort struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	Ceiling  int    `yaml:"ceiling,omitempty"`  // defaults to port+100
	Protocol string `yaml:"protocol,omitempty"` // tcp or udp
}

// SpoolerConfig controls how the CUPS spooler is driven.
type SpoolerConfig struct {
	ReadyTimeout      time.Duration `yaml:"readyTimeout,omitempty"`
	ReadyPollInterval time.Duration `yaml:"readyPollInterval,omitempty"`
	CommandTimeout    time.Duration `yaml:"commandTimeout,omitempty"`
	VendorTokens      []string      `yaml:"vendorTokens,omitempty"`
	Driver            string        `yaml:"driver,omitempty"`
	RescanSchedule    string        `yaml:"rescanSchedule,omitempty"` // cron spec, e.g. "@every 1m"
}

// TunnelSettings configures the public reachability providers.
type TunnelSettings struct {
	Provider         string        `yaml:"provider,omitempty"`
	Domain           string        `yaml:"domain,omitempty"`
	TunnelName       string        `yaml:"tunnelName,omitempty"`
	LocalService     string        `yaml:"localService,omitempty"` // service whose port is exposed
	HealthPath       string        `yaml:"healthPath,omitempty"`
	ProbeAttempts    int           `yaml:"probeAttempts,omitempty"`
	ProbeDelay       time.Duration `yaml:"probeDelay,omitempty"`
	ProbeTimeout     time.Duration `yaml:"probeTimeout,omitempty"`
	LivenessInterval time.Duration `yaml:"livenessInterval,omitempty"`
	URLTimeout       time.Duration `yaml:"urlTimeout,omitempty"`
	StopGracePeriod  time.Duration `yaml:"stopGracePeriod,omitempty"`
	MaxRestarts      int           `yaml:"maxRestarts,omitempty"`
	RestartBackoff   time.Duration `yaml:"restartBackoff,omitempty"`

	CloudflaredPath string `yaml:"cloudflaredPath,omitempty"`
	CloudflaredDir  string `yaml:"cloudflaredDir,omitempty"` // holds cert.pem and tunnel credentials
	NgrokPath       string `yaml:"ngrokPath,omitempty"`
	NgrokRegion     string `yaml:"ngrokRegion,omitempty"`
	NgrokAPIURL     string `yaml:"ngrokApiUrl,omitempty"`
}

// ControlConfig configures the local control endpoint used by the CLI.
type ControlConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// Credentials holds secrets read from the environment.
type Credentials struct {
	CloudflareTunnelToken     string
	CloudflareCredentialsFile string
	NgrokAuthtoken            string
}
