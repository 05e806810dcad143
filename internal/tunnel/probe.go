package tunnel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"labelctl/internal/errdefs"
)

// Prober checks that a public URL reaches the local label API.
type Prober interface {
	Probe(ctx context.Context, publicURL string) error
}

// HTTPProber issues GET <publicURL><path> and expects a 2xx answer.
type HTTPProber struct {
	client *http.Client
	path   string
}

// NewHTTPProber creates a prober hitting path with the given per-request timeout.
func NewHTTPProber(path string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if path == "" {
		path = "/health"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &HTTPProber{client: &http.Client{Timeout: timeout}, path: path}
}

// Probe performs one health request.
func (p *HTTPProber) Probe(ctx context.Context, publicURL string) error {
	if publicURL == "" {
		return errdefs.Transient(nil, "no public URL to probe")
	}
	url := strings.TrimRight(publicURL, "/") + p.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return errdefs.Transient(err, "probe %s", url)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errdefs.Transient(nil, "probe %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
