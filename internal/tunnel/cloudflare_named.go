package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"labelctl/internal/config"
	"labelctl/internal/errdefs"
	"labelctl/pkg/logging"
)

// cloudflaredConfig is the subset of the cloudflared config file we write.
type cloudflaredConfig struct {
	Tunnel          string            `yaml:"tunnel"`
	CredentialsFile string            `yaml:"credentials-file,omitempty"`
	Ingress         []cloudflaredRule `yaml:"ingress"`
}

type cloudflaredRule struct {
	Hostname string `yaml:"hostname,omitempty"`
	Service  string `yaml:"service"`
}

// cloudflareNamed serves a pre-registered hostname through a named tunnel.
type cloudflareNamed struct {
	base
}

func newCloudflareNamed(settings config.TunnelSettings, deps Deps) Provider {
	return &cloudflareNamed{base: base{name: config.ProviderCloudflareNamed, settings: settings, deps: deps}}
}

func (c *cloudflareNamed) Requirements() Requirements {
	return Requirements{Domain: true, Credential: true}
}

func (c *cloudflareNamed) SetDomain(string) error { return nil }

func (c *cloudflareNamed) configPath() string {
	return filepath.Join(c.deps.DataDir, "cloudflared-"+c.settings.TunnelName+".yml")
}

// writeConfig renders the ingress file: the domain maps to the local API,
// everything else gets a 404.
func (c *cloudflareNamed) writeConfig(req StartRequest) (string, error) {
	cfg := cloudflaredConfig{
		Tunnel: c.settings.TunnelName,
		Ingress: []cloudflaredRule{
			{Hostname: req.Domain, Service: fmt.Sprintf("http://localhost:%d", req.LocalPort)},
			{Service: "http_status:404"},
		},
	}
	if req.Credential.Kind == CredentialFile {
		cfg.CredentialsFile = req.Credential.Value
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cloudflared config: %w", err)
	}
	path := c.configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write cloudflared config: %w", err)
	}
	return path, nil
}

// routeDNS points the domain at the tunnel when an origin certificate is
// available. Without one the record must already exist.
func (c *cloudflareNamed) routeDNS(ctx context.Context, domain string) {
	if c.settings.CloudflaredDir == "" {
		return
	}
	if _, err := os.Stat(filepath.Join(c.settings.CloudflaredDir, "cert.pem")); err != nil {
		logging.Debug("Tunnel", "No origin certificate, skipping DNS route for %s", domain)
		return
	}
	out, err := c.deps.Run(ctx, c.settings.CloudflaredPath, "tunnel", "route", "dns", c.settings.TunnelName, domain)
	if err != nil && !strings.Contains(strings.ToLower(string(out)), "already exists") {
		logging.Warn("Tunnel", "cloudflared route dns %s: %v: %s", domain, err, strings.TrimSpace(string(out)))
	}
}

func (c *cloudflareNamed) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.Domain == "" {
		return nil, errdefs.Validation("provider %s needs a domain", c.name)
	}
	if req.Credential.Kind == CredentialNone {
		return nil, errdefs.Permanent(nil,
			"set LABELCTL_CLOUDFLARE_TUNNEL_TOKEN or LABELCTL_CLOUDFLARE_CREDENTIALS_FILE, or store a reference with 'labelctl tunnel configure --credential'",
			"no credential for %s", c.name)
	}

	path, err := c.writeConfig(req)
	if err != nil {
		return nil, err
	}
	if req.Credential.Kind == CredentialFile {
		c.routeDNS(ctx, req.Domain)
	}

	cmd := Command{
		Name: c.settings.CloudflaredPath,
		Args: []string{"tunnel", "--no-autoupdate", "--config", path, "run"},
	}
	if req.Credential.Kind == CredentialToken {
		cmd.Env = []string{"TUNNEL_TOKEN=" + req.Credential.Value}
	} else {
		cmd.Args = append(cmd.Args, c.settings.TunnelName)
	}

	proc, err := c.deps.Launcher.Launch(ctx, cmd)
	if err != nil {
		return nil, launchError(err, "cloudflared", "install cloudflared or set tunnel.cloudflaredPath")
	}

	_, err = waitForLine(ctx, proc, c.settings.URLTimeout, func(line string) (string, bool) {
		l := strings.ToLower(line)
		return "", strings.Contains(l, "registered tunnel connection") || strings.Contains(l, "connection registered")
	})
	switch {
	case err == nil:
	case errors.Is(err, errWaitTimeout):
		// Still connecting; verification decides.
		logging.Warn("Tunnel", "cloudflared has not reported a connection yet: %v", err)
	default:
		proc.Terminate(c.settings.StopGracePeriod)
		return nil, err
	}

	url := "https://" + req.Domain
	c.attach(proc, url)
	return &Session{PublicURL: url, Process: proc}, nil
}
