package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"labelctl/pkg/logging"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/labelctl"
	userDataDir      = ".local/share/labelctl"
	projectConfigDir = ".labelctl"
	configFileName   = "config.yaml"
	envPrefix        = "LABELCTL"
)

// environment is the LABELCTL_* overlay.
type environment struct {
	DataDir                   string `envconfig:"DATA_DIR"`
	LogLevel                  string `envconfig:"LOG_LEVEL"`
	Provider                  string `envconfig:"PROVIDER"`
	Domain                    string `envconfig:"DOMAIN"`
	APIPort                   int    `envconfig:"API_PORT"`
	ControlPort               int    `envconfig:"CONTROL_PORT"`
	CloudflareTunnelToken     string `envconfig:"CLOUDFLARE_TUNNEL_TOKEN"`
	CloudflareCredentialsFile string `envconfig:"CLOUDFLARE_CREDENTIALS_FILE"`
	NgrokAuthtoken            string `envconfig:"NGROK_AUTHTOKEN"`
}

// LoadConfig loads the labelctl configuration by layering default, user,
// project and environment settings.
func LoadConfig() (LabelctlConfig, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if fileExists(userConfigPath) {
		userConfig, err := loadConfigFromFile(userConfigPath)
		if err != nil {
			return LabelctlConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
		config = mergeConfigs(config, userConfig)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else if fileExists(projectConfigPath) {
		projectConfig, err := loadConfigFromFile(projectConfigPath)
		if err != nil {
			return LabelctlConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
		config = mergeConfigs(config, projectConfig)
	}

	return finalize(config)
}

// LoadConfigFromPath loads defaults plus a single explicit file, then the environment.
func LoadConfigFromPath(path string) (LabelctlConfig, error) {
	fileConfig, err := loadConfigFromFile(path)
	if err != nil {
		return LabelctlConfig{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	return finalize(mergeConfigs(GetDefaultConfig(), fileConfig))
}

func finalize(config LabelctlConfig) (LabelctlConfig, error) {
	config, err := applyEnvironment(config)
	if err != nil {
		return LabelctlConfig{}, err
	}
	if config.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return LabelctlConfig{}, fmt.Errorf("failed to determine data directory: %w", err)
		}
		config.DataDir = dir
	}
	if config.Tunnel.CloudflaredDir == "" {
		if home, err := osUserHomeDir(); err == nil {
			config.Tunnel.CloudflaredDir = filepath.Join(home, ".cloudflared")
		}
	}
	if err := Validate(config); err != nil {
		return LabelctlConfig{}, err
	}
	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

func defaultDataDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userDataDir), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadConfigFromFile loads a LabelctlConfig from a YAML file.
func loadConfigFromFile(filePath string) (LabelctlConfig, error) {
	var config LabelctlConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return LabelctlConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return LabelctlConfig{}, err
	}
	return config, nil
}

// applyEnvironment overlays LABELCTL_* variables. Empty variables leave the value alone.
func applyEnvironment(config LabelctlConfig) (LabelctlConfig, error) {
	var env environment
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return LabelctlConfig{}, fmt.Errorf("failed to read %s_* environment: %w", envPrefix, err)
	}

	if env.DataDir != "" {
		config.DataDir = env.DataDir
	}
	if env.LogLevel != "" {
		config.LogLevel = env.LogLevel
	}
	if env.Provider != "" {
		config.Tunnel.Provider = env.Provider
	}
	if env.Domain != "" {
		config.Tunnel.Domain = env.Domain
	}
	if env.APIPort != 0 {
		config = setServicePort(config, ServiceAPI, env.APIPort)
	}
	if env.ControlPort != 0 {
		config.Control.Port = env.ControlPort
	}
	config.Credentials = Credentials{
		CloudflareTunnelToken:     env.CloudflareTunnelToken,
		CloudflareCredentialsFile: env.CloudflareCredentialsFile,
		NgrokAuthtoken:            env.NgrokAuthtoken,
	}
	return config, nil
}

func setServicePort(config LabelctlConfig, name string, port int) LabelctlConfig {
	for i := range config.Services {
		if config.Services[i].Name == name {
			config.Services[i].Port = port
			return config
		}
	}
	config.Services = append(config.Services, ServicePort{Name: name, Port: port, Protocol: "tcp"})
	return config
}

// mergeConfigs merges 'overlay' config into 'base' config.
func mergeConfigs(base, overlay LabelctlConfig) LabelctlConfig {
	merged := base
	// Copy so that mutating merged never aliases base's backing array.
	merged.Services = append([]ServicePort(nil), base.Services...)

	if overlay.DataDir != "" {
		merged.DataDir = overlay.DataDir
	}
	if overlay.LogLevel != "" {
		merged.LogLevel = overlay.LogLevel
	}

	// Services merge by name; overlay entries replace or append.
	for _, svc := range overlay.Services {
		replaced := false
		for i := range merged.Services {
			if merged.Services[i].Name == svc.Name {
				merged.Services[i] = svc
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Services = append(merged.Services, svc)
		}
	}

	s, o := &merged.Spooler, overlay.Spooler
	if o.ReadyTimeout != 0 {
		s.ReadyTimeout = o.ReadyTimeout
	}
	if o.ReadyPollInterval != 0 {
		s.ReadyPollInterval = o.ReadyPollInterval
	}
	if o.CommandTimeout != 0 {
		s.CommandTimeout = o.CommandTimeout
	}
	if len(o.VendorTokens) > 0 {
		s.VendorTokens = o.VendorTokens
	}
	if o.Driver != "" {
		s.Driver = o.Driver
	}
	if o.RescanSchedule != "" {
		s.RescanSchedule = o.RescanSchedule
	}

	merged.Tunnel = mergeTunnel(merged.Tunnel, overlay.Tunnel)

	if overlay.Control.Host != "" {
		merged.Control.Host = overlay.Control.Host
	}
	if overlay.Control.Port != 0 {
		merged.Control.Port = overlay.Control.Port
	}
	return merged
}

func mergeTunnel(t, o TunnelSettings) TunnelSettings {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	str(&t.Provider, o.Provider)
	str(&t.Domain, o.Domain)
	str(&t.TunnelName, o.TunnelName)
	str(&t.LocalService, o.LocalService)
	str(&t.HealthPath, o.HealthPath)
	str(&t.CloudflaredPath, o.CloudflaredPath)
	str(&t.CloudflaredDir, o.CloudflaredDir)
	str(&t.NgrokPath, o.NgrokPath)
	str(&t.NgrokRegion, o.NgrokRegion)
	str(&t.NgrokAPIURL, o.NgrokAPIURL)

	if o.ProbeAttempts != 0 {
		t.ProbeAttempts = o.ProbeAttempts
	}
	if o.ProbeDelay != 0 {
		t.ProbeDelay = o.ProbeDelay
	}
	if o.ProbeTimeout != 0 {
		t.ProbeTimeout = o.ProbeTimeout
	}
	if o.LivenessInterval != 0 {
		t.LivenessInterval = o.LivenessInterval
	}
	if o.URLTimeout != 0 {
		t.URLTimeout = o.URLTimeout
	}
	if o.StopGracePeriod != 0 {
		t.StopGracePeriod = o.StopGracePeriod
	}
	if o.MaxRestarts != 0 {
		t.MaxRestarts = o.MaxRestarts
	}
	if o.RestartBackoff != 0 {
		t.RestartBackoff = o.RestartBackoff
	}
	return t
}

// Validate rejects configurations the rest of the system cannot run with.
func Validate(config LabelctlConfig) error {
	seen := make(map[string]bool)
	for _, svc := range config.Services {
		if svc.Name == "" {
			return fmt.Errorf("service entry without a name")
		}
		if seen[svc.Name] {
			return fmt.Errorf("service %q declared twice", svc.Name)
		}
		seen[svc.Name] = true
		if svc.Port <= 0 || svc.Port > 65535 {
			return fmt.Errorf("service %q: port %d out of range", svc.Name, svc.Port)
		}
		if svc.Ceiling != 0 && svc.Ceiling < svc.Port {
			return fmt.Errorf("service %q: ceiling %d below port %d", svc.Name, svc.Ceiling, svc.Port)
		}
		if p := strings.ToLower(svc.Protocol); p != "" && p != "tcp" && p != "udp" {
			return fmt.Errorf("service %q: unsupported protocol %q", svc.Name, svc.Protocol)
		}
	}
	if seen[ServiceControl] {
		return fmt.Errorf("service name %q is reserved", ServiceControl)
	}
	if !seen[config.Tunnel.LocalService] {
		return fmt.Errorf("tunnel.localService %q does not name a configured service", config.Tunnel.LocalService)
	}
	switch config.Tunnel.Provider {
	case ProviderCloudflareNamed, ProviderCloudflareQuick, ProviderNgrok:
	default:
		return fmt.Errorf("unknown tunnel provider %q", config.Tunnel.Provider)
	}
	if config.Tunnel.ProbeAttempts < 1 {
		return fmt.Errorf("tunnel.probeAttempts must be at least 1")
	}
	if config.Control.Port <= 0 || config.Control.Port > 65535 {
		return fmt.Errorf("control port %d out of range", config.Control.Port)
	}
	return nil
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// DatabasePath returns the location of the state database inside DataDir.
func (c LabelctlConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "labelctl.db")
}

// ServiceByName returns the service entry with the given name.
func (c LabelctlConfig) ServiceByName(name string) (ServicePort, bool) {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServicePort{}, false
}
