package tunnel

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"labelctl/internal/config"
	"labelctl/internal/errdefs"
)

var quickURLPattern = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// cloudflareQuick gets a fresh trycloudflare.com address on every start.
type cloudflareQuick struct {
	base
}

func newCloudflareQuick(settings config.TunnelSettings, deps Deps) Provider {
	return &cloudflareQuick{base: base{name: config.ProviderCloudflareQuick, settings: settings, deps: deps}}
}

func (c *cloudflareQuick) Requirements() Requirements { return Requirements{} }

func (c *cloudflareQuick) SetDomain(string) error { return rejectDomain(c.name) }

func (c *cloudflareQuick) Start(ctx context.Context, req StartRequest) (*Session, error) {
	cmd := Command{
		Name: c.settings.CloudflaredPath,
		Args: []string{"tunnel", "--no-autoupdate", "--url", fmt.Sprintf("http://localhost:%d", req.LocalPort)},
	}
	proc, err := c.deps.Launcher.Launch(ctx, cmd)
	if err != nil {
		return nil, launchError(err, "cloudflared", "install cloudflared or set tunnel.cloudflaredPath")
	}

	url, err := waitForLine(ctx, proc, c.settings.URLTimeout, func(line string) (string, bool) {
		m := quickURLPattern.FindString(line)
		return m, m != ""
	})
	if err != nil {
		proc.Terminate(c.settings.StopGracePeriod)
		if errors.Is(err, errWaitTimeout) {
			return nil, errdefs.Transient(err, "cloudflared did not report a public URL")
		}
		return nil, err
	}

	c.attach(proc, url)
	return &Session{PublicURL: url, Process: proc}, nil
}
