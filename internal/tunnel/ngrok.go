package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"labelctl/internal/config"
	"labelctl/internal/errdefs"
)

const ngrokPollInterval = 250 * time.Millisecond

// ngrokTunnels is the response of the agent's /api/tunnels endpoint.
type ngrokTunnels struct {
	Tunnels []ngrokTunnel `json:"tunnels"`
}

type ngrokTunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Config    struct {
		Addr string `json:"addr"`
	} `json:"config"`
}

// ngrok relays through the ngrok agent. The address is discovered from the
// agent's local API after launch.
type ngrok struct {
	base
}

func newNgrok(settings config.TunnelSettings, deps Deps) Provider {
	return &ngrok{base: base{name: config.ProviderNgrok, settings: settings, deps: deps}}
}

func (n *ngrok) Requirements() Requirements { return Requirements{Credential: true} }

func (n *ngrok) SetDomain(string) error { return rejectDomain(n.name) }

func (n *ngrok) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.Credential.Kind != CredentialToken {
		return nil, errdefs.Permanent(nil,
			"set LABELCTL_NGROK_AUTHTOKEN or store a reference with 'labelctl tunnel configure ngrok --credential env:NAME'",
			"no authtoken for %s", n.name)
	}

	args := []string{"http", strconv.Itoa(req.LocalPort), "--log", "stdout", "--log-format", "logfmt"}
	if n.settings.NgrokRegion != "" {
		args = append(args, "--region", n.settings.NgrokRegion)
	}
	proc, err := n.deps.Launcher.Launch(ctx, Command{
		Name: n.settings.NgrokPath,
		Args: args,
		Env:  []string{"NGROK_AUTHTOKEN=" + req.Credential.Value},
	})
	if err != nil {
		return nil, launchError(err, "ngrok", "install ngrok or set tunnel.ngrokPath")
	}

	url, err := n.discover(ctx, proc, req.LocalPort)
	if err != nil {
		proc.Terminate(n.settings.StopGracePeriod)
		return nil, err
	}
	n.attach(proc, url)
	return &Session{PublicURL: url, Process: proc}, nil
}

// discover polls the agent API until an https tunnel shows up.
func (n *ngrok) discover(ctx context.Context, proc Process, port int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.settings.URLTimeout)
	defer cancel()

	ticker := time.NewTicker(ngrokPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		url, err := n.lookup(ctx, port)
		if err == nil && url != "" {
			return url, nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-proc.Done():
			return "", errdefs.Transient(proc.Err(), "ngrok exited during startup")
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return "", errdefs.Transient(lastErr, "ngrok did not report a public URL")
		case <-ticker.C:
		}
	}
}

func (n *ngrok) lookup(ctx context.Context, port int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.settings.NgrokAPIURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := n.deps.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ngrok API returned status %d", resp.StatusCode)
	}

	var body ngrokTunnels
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode ngrok API response: %w", err)
	}
	return pickNgrokURL(body, port), nil
}

// pickNgrokURL prefers the https tunnel forwarding to port and falls back to
// the first https tunnel.
func pickNgrokURL(body ngrokTunnels, port int) string {
	suffix := ":" + strconv.Itoa(port)
	first := ""
	for _, t := range body.Tunnels {
		if !strings.HasPrefix(t.PublicURL, "https://") {
			continue
		}
		if strings.HasSuffix(t.Config.Addr, suffix) || t.Config.Addr == strconv.Itoa(port) {
			return t.PublicURL
		}
		if first == "" {
			first = t.PublicURL
		}
	}
	return first
}
