package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"labelctl/internal/config"
	"labelctl/internal/errdefs"
)

// Requirements lists what a provider needs before it can start.
type Requirements struct {
	Domain     bool
	Credential bool
}

// StartRequest carries everything a provider needs to launch its client.
type StartRequest struct {
	LocalPort  int
	Domain     string
	Credential Credential
	SessionID  string
}

// Session is a started tunnel.
type Session struct {
	PublicURL string
	Process   Process
}

// ProviderStatus is a point-in-time view of a provider.
type ProviderStatus struct {
	Running   bool
	PublicURL string
	PID       int
}

// Provider is a public reachability backend.
type Provider interface {
	Name() string
	Requirements() Requirements
	// SetDomain accepts or rejects an already normalized domain.
	SetDomain(domain string) error
	Start(ctx context.Context, req StartRequest) (*Session, error)
	Stop(ctx context.Context) error
	// Verify performs a single reachability probe of the current public URL.
	Verify(ctx context.Context) error
	Status() ProviderStatus
}

// RunFunc runs a short-lived helper command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Deps are the collaborators shared by all providers.
type Deps struct {
	Launcher   Launcher
	Prober     Prober
	Run        RunFunc
	HTTPClient *http.Client
	DataDir    string
}

func (d Deps) withDefaults(settings config.TunnelSettings) Deps {
	if d.Launcher == nil {
		d.Launcher = ExecLauncher{}
	}
	if d.Prober == nil {
		d.Prober = NewHTTPProber(settings.HealthPath, settings.ProbeTimeout)
	}
	if d.Run == nil {
		d.Run = execRun
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	return d
}

// Factory builds a provider from tunnel settings.
type Factory func(settings config.TunnelSettings, deps Deps) Provider

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		config.ProviderCloudflareNamed: newCloudflareNamed,
		config.ProviderCloudflareQuick: newCloudflareQuick,
		config.ProviderNgrok:           newNgrok,
	}
)

// Register adds or replaces a provider factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider builds the provider registered under name.
func NewProvider(name string, settings config.TunnelSettings, deps Deps) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errdefs.Permanent(nil,
			"choose one of: "+strings.Join(Providers(), ", "),
			"unsupported tunnel provider %q", name)
	}
	return f(settings, deps.withDefaults(settings)), nil
}

// base holds the process bookkeeping common to every provider.
type base struct {
	name     string
	settings config.TunnelSettings
	deps     Deps

	mu   sync.Mutex
	proc Process
	url  string
}

func (b *base) Name() string { return b.name }

func (b *base) attach(proc Process, url string) {
	b.mu.Lock()
	b.proc = proc
	b.url = url
	b.mu.Unlock()
}

func (b *base) current() (Process, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.proc, b.url
}

// Stop terminates the client, if any. Safe to call repeatedly.
func (b *base) Stop(ctx context.Context) error {
	b.mu.Lock()
	proc := b.proc
	b.proc = nil
	b.url = ""
	b.mu.Unlock()

	if proc == nil {
		return nil
	}
	grace := b.settings.StopGracePeriod
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < grace {
			grace = left
		}
	}
	if err := proc.Terminate(grace); err != nil {
		return fmt.Errorf("failed to stop %s client: %w", b.name, err)
	}
	return nil
}

func (b *base) Verify(ctx context.Context) error {
	_, url := b.current()
	if url == "" {
		return errdefs.Transient(nil, "%s has no public URL", b.name)
	}
	return b.deps.Prober.Probe(ctx, url)
}

func (b *base) Status() ProviderStatus {
	proc, url := b.current()
	st := ProviderStatus{PublicURL: url}
	if proc != nil {
		select {
		case <-proc.Done():
		default:
			st.Running = true
			st.PID = proc.PID()
		}
	}
	return st
}

// rejectDomain is the SetDomain of providers that assign their own address.
func rejectDomain(name string) error {
	return errdefs.Validation("provider %s assigns its own address and does not accept a custom domain", name)
}

// launchError classifies a failed client launch. A missing binary needs the
// operator; anything else may go away on retry.
func launchError(err error, binary, hint string) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return errdefs.Permanent(err, hint, "%s not found", binary)
	}
	return errdefs.Transient(err, "failed to launch %s", binary)
}

var errWaitTimeout = errors.New("timed out")

// tail keeps the last few client lines for error messages.
type tail struct {
	lines []string
}

func (t *tail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > 5 {
		t.lines = t.lines[len(t.lines)-5:]
	}
}

func (t *tail) String() string { return strings.Join(t.lines, " | ") }

// waitForLine reads client output until match returns true, the process exits,
// ctx ends or timeout elapses.
func waitForLine(ctx context.Context, proc Process, timeout time.Duration, match func(string) (string, bool)) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var last tail
	lines := proc.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			last.add(line)
			if v, found := match(line); found {
				return v, nil
			}
		case <-proc.Done():
			// Drain what was already buffered before reporting the exit.
			for lines != nil {
				select {
				case line, ok := <-lines:
					if !ok {
						lines = nil
						break
					}
					last.add(line)
					if v, found := match(line); found {
						return v, nil
					}
				default:
					lines = nil
				}
			}
			return "", errdefs.Transient(proc.Err(), "client exited during startup (%s)", last.String())
		case <-timer.C:
			return "", fmt.Errorf("%w after %s (%s)", errWaitTimeout, timeout, last.String())
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
