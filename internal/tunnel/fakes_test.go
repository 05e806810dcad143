package tunnel

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"labelctl/internal/config"
	"labelctl/internal/store"
)

type fakeProcess struct {
	pid   int
	lines chan string
	done  chan struct{}

	mu         sync.Mutex
	err        error
	terminated bool
	closeOnce  sync.Once
}

func newFakeProcess(pid int, lines ...string) *fakeProcess {
	p := &fakeProcess{pid: pid, lines: make(chan string, len(lines)+8), done: make(chan struct{})}
	for _, l := range lines {
		p.lines <- l
	}
	return p
}

func (p *fakeProcess) PID() int               { return p.pid }
func (p *fakeProcess) Lines() <-chan string  { return p.lines }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// exit simulates the client dying on its own.
func (p *fakeProcess) exit(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *fakeProcess) Terminate(time.Duration) error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProcess) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type fakeLauncher struct {
	mu    sync.Mutex
	cmds  []Command
	procs []*fakeProcess
	next  func() *fakeProcess
	err   error
}

func (l *fakeLauncher) Launch(_ context.Context, cmd Command) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cmds = append(l.cmds, cmd)
	if l.err != nil {
		return nil, l.err
	}
	p := l.next()
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) lastCommand() Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmds[len(l.cmds)-1]
}

type fakeProber struct {
	mu    sync.Mutex
	fails int // number of failures before the first success
	down  bool
	calls int
	// slow runs after every call, to model a probe that takes time.
	slow func()
}

func (p *fakeProber) Probe(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.slow != nil {
		p.slow()
	}
	if p.down || p.calls <= p.fails {
		return errors.New("probe failed")
	}
	return nil
}

func (p *fakeProber) setDown(down bool) {
	p.mu.Lock()
	p.down = down
	p.mu.Unlock()
}

// fakeProvider is a scripted Provider for controller tests.
type fakeProvider struct {
	name     string
	reqs     Requirements
	startErr error
	prober   *fakeProber

	mu       sync.Mutex
	proc     *fakeProcess
	starts   int
	stops    int
	lastReq  StartRequest
	pidCount atomic.Int32
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) Requirements() Requirements { return f.reqs }

func (f *fakeProvider) SetDomain(string) error {
	if !f.reqs.Domain {
		return rejectDomain(f.name)
	}
	return nil
}

func (f *fakeProvider) Start(_ context.Context, req StartRequest) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.lastReq = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.proc = newFakeProcess(int(f.pidCount.Add(1)))
	return &Session{PublicURL: "https://" + f.name + ".example.com", Process: f.proc}, nil
}

func (f *fakeProvider) Stop(context.Context) error {
	f.mu.Lock()
	proc := f.proc
	f.proc = nil
	f.stops++
	f.mu.Unlock()
	if proc != nil {
		return proc.Terminate(0)
	}
	return nil
}

func (f *fakeProvider) Verify(ctx context.Context) error { return f.prober.Probe(ctx, "") }

func (f *fakeProvider) Status() ProviderStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.proc == nil {
		return ProviderStatus{}
	}
	return ProviderStatus{Running: true, PID: f.proc.pid}
}

func (f *fakeProvider) current() *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proc
}

func (f *fakeProvider) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "labelctl.db"), store.WithQuietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// steppingClock is a test clock that only moves when told to.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testSettings() config.TunnelSettings {
	return config.TunnelSettings{
		Provider:         config.ProviderCloudflareNamed,
		TunnelName:       "labelctl",
		HealthPath:       "/health",
		ProbeAttempts:    3,
		ProbeDelay:       5 * time.Millisecond,
		ProbeTimeout:     time.Second,
		LivenessInterval: 20 * time.Millisecond,
		URLTimeout:       200 * time.Millisecond,
		StopGracePeriod:  10 * time.Millisecond,
		CloudflaredPath:  "cloudflared",
		NgrokPath:        "ngrok",
		NgrokRegion:      "eu",
	}
}
