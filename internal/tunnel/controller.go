package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"labelctl/internal/config"
	"labelctl/internal/errdefs"
	"labelctl/internal/store"
	"labelctl/pkg/logging"
)

// TunnelStore is the persistence the controller needs.
type TunnelStore interface {
	GetTunnel(provider string) (*store.TunnelConfig, error)
	UpdateTunnel(provider string, fn func(t *store.TunnelConfig) error) (*store.TunnelConfig, error)
}

// PortFunc returns the local port the tunnel should forward to.
type PortFunc func() (int, error)

// Info is a snapshot of a controller.
type Info struct {
	Provider     string     `json:"provider"`
	State        State      `json:"state"`
	Domain       string     `json:"domain,omitempty"`
	PublicURL    string     `json:"public_url,omitempty"`
	LastVerified *time.Time `json:"last_verified,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	RestartCount int        `json:"restart_count"`
	SessionID    string     `json:"session_id,omitempty"`
	PID          int        `json:"pid,omitempty"`
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithStateChangeCallback registers cb at construction time.
func WithStateChangeCallback(cb StateChangeCallback) ControllerOption {
	return func(c *Controller) { c.onChange = cb }
}

// Controller drives one provider through its lifecycle and persists every
// transition.
type Controller struct {
	provider  Provider
	store     TunnelStore
	creds     *CredentialResolver
	settings  config.TunnelSettings
	localPort PortFunc
	now       func() time.Time

	mu           sync.Mutex
	state        State
	domain       string
	publicURL    string
	lastVerified *time.Time
	sessionID    string
	onChange     StateChangeCallback
	pending      []StateChange

	// cancel and done belong to the running session, nil otherwise.
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController loads the persisted row for p. A configured tunnel comes
// back as CONFIGURED because no client survives a restart of labelctl,
// except one that spent its restart budget: it stays FAILED until an
// operator starts it.
func NewController(p Provider, s TunnelStore, creds *CredentialResolver, settings config.TunnelSettings, localPort PortFunc, opts ...ControllerOption) (*Controller, error) {
	c := &Controller{
		provider:  p,
		store:     s,
		creds:     creds,
		settings:  settings,
		localPort: localPort,
		now:       time.Now,
		state:     StateUnconfigured,
	}
	for _, opt := range opts {
		opt(c)
	}

	row, err := s.GetTunnel(p.Name())
	switch {
	case errdefs.IsNotFound(err):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load tunnel %s: %w", p.Name(), err)
	}

	c.domain = row.Domain
	c.lastVerified = row.LastVerified
	switch {
	case row.IsConfigured && restartBudgetSpent(row, settings):
		c.state = StateFailed
	case row.IsConfigured:
		c.state = StateConfigured
	}
	if State(row.State) != c.state || row.IsActive {
		_, err := s.UpdateTunnel(p.Name(), func(t *store.TunnelConfig) error {
			t.State = string(c.state)
			t.IsActive = false
			t.PublicURL = ""
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to reset tunnel %s: %w", p.Name(), err)
		}
	}
	return c, nil
}

// restartBudgetSpent reports whether row failed after its last automatic
// restart was used up.
func restartBudgetSpent(row *store.TunnelConfig, settings config.TunnelSettings) bool {
	return State(row.State) == StateFailed && row.RestartCount >= settings.MaxRestarts
}

// Provider returns the provider name.
func (c *Controller) Provider() string { return c.provider.Name() }

// Requirements returns what the provider needs before Start.
func (c *Controller) Requirements() Requirements { return c.provider.Requirements() }

// SetStateChangeCallback replaces the transition callback.
func (c *Controller) SetStateChangeCallback(cb StateChangeCallback) {
	c.mu.Lock()
	c.onChange = cb
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info returns a snapshot combining memory and the persisted row.
func (c *Controller) Info() Info {
	c.mu.Lock()
	info := Info{
		Provider:     c.provider.Name(),
		State:        c.state,
		Domain:       c.domain,
		PublicURL:    c.publicURL,
		LastVerified: c.lastVerified,
		SessionID:    c.sessionID,
	}
	c.mu.Unlock()

	if row, err := c.store.GetTunnel(info.Provider); err == nil {
		info.LastError = row.LastError
		info.RestartCount = row.RestartCount
	}
	info.PID = c.provider.Status().PID
	return info
}

// SetDomain validates, normalizes and persists domain. An invalid domain
// leaves the controller untouched.
func (c *Controller) SetDomain(ctx context.Context, domain string) error {
	normalized, err := NormalizeDomain(domain)
	if err != nil {
		return err
	}
	if err := c.provider.SetDomain(normalized); err != nil {
		return err
	}

	c.mu.Lock()
	next := c.state
	if !next.Running() {
		next = StateConfigured
	}
	_, err = c.store.UpdateTunnel(c.provider.Name(), func(t *store.TunnelConfig) error {
		t.Domain = normalized
		t.IsConfigured = true
		t.State = string(next)
		return nil
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.domain = normalized
	if c.state.Running() {
		logging.Info("Tunnel", "Domain for %s set to %s, restart the tunnel to apply it", c.provider.Name(), normalized)
	}
	c.setStateLocked(next, nil)
	c.mu.Unlock()
	c.flush()
	return nil
}

// Configure marks the provider as configured and optionally stores a
// credential reference (env:NAME or file:/path). Providers that need a
// domain must have one first.
func (c *Controller) Configure(ctx context.Context, credentialRef string) error {
	if err := ValidateCredentialRef(credentialRef); err != nil {
		return err
	}

	c.mu.Lock()
	if c.provider.Requirements().Domain && c.domain == "" {
		c.mu.Unlock()
		return errdefs.Validation("provider %s needs a domain, set one first", c.provider.Name())
	}
	next := c.state
	if next == StateUnconfigured {
		next = StateConfigured
	}
	_, err := c.store.UpdateTunnel(c.provider.Name(), func(t *store.TunnelConfig) error {
		if credentialRef != "" {
			t.CredentialRef = credentialRef
		}
		t.IsConfigured = true
		t.State = string(next)
		return nil
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.setStateLocked(next, nil)
	c.mu.Unlock()
	c.flush()
	return nil
}

// Start launches the client and returns once it runs. Verification
// continues in the background. Starting a running tunnel is a no-op, a
// DEGRADED or FAILED one is restarted. The restart counter is reset.
func (c *Controller) Start(ctx context.Context) error {
	return c.start(ctx, false)
}

// Restart is Start for automatic recovery: it increments the persisted
// restart counter instead of resetting it.
func (c *Controller) Restart(ctx context.Context) error {
	return c.start(ctx, true)
}

func (c *Controller) start(ctx context.Context, automatic bool) error {
	name := c.provider.Name()

	c.mu.Lock()
	if c.state == StateStarting || c.state == StateActive {
		c.mu.Unlock()
		return nil
	}
	if !c.state.Startable() {
		c.mu.Unlock()
		return errdefs.Validation("tunnel %s is %s, configure it first", name, c.state)
	}

	row, err := c.store.GetTunnel(name)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	cred, err := c.creds.Resolve(name, row.CredentialRef)
	if err == nil && c.provider.Requirements().Credential && cred.Kind == CredentialNone {
		err = errdefs.Permanent(nil, "set the provider credential in the environment or with 'labelctl tunnel configure --credential'", "no credential available for %s", name)
	}
	if err != nil {
		c.recordErrorLocked(err)
		c.mu.Unlock()
		return err
	}
	port, err := c.localPort()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to resolve local port: %w", err)
	}

	// Tear down a degraded or failed session before replacing it.
	oldCancel, oldDone := c.cancel, c.done
	if oldCancel != nil {
		oldCancel()
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.sessionID = uuid.NewString()
	c.publicURL = ""
	sessionID := c.sessionID
	domain := c.domain

	if err := c.persistLocked(StateStarting, nil, func(t *store.TunnelConfig) {
		t.SessionID = sessionID
		t.PublicURL = ""
		if automatic {
			t.RestartCount++
		} else {
			t.RestartCount = 0
		}
	}); err != nil {
		cancel()
		c.cancel, c.done = nil, nil
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	c.flush()

	if oldCancel != nil {
		c.provider.Stop(ctx)
		<-oldDone
	}

	logging.Info("Tunnel", "Starting %s on local port %d (session %s)", name, port, sessionID)
	sess, err := c.provider.Start(loopCtx, StartRequest{
		LocalPort:  port,
		Domain:     domain,
		Credential: cred,
		SessionID:  sessionID,
	})

	c.mu.Lock()
	if loopCtx.Err() != nil {
		// Stopped while the client was coming up.
		c.mu.Unlock()
		close(done)
		if sess != nil {
			c.provider.Stop(ctx)
		}
		return errdefs.Transient(loopCtx.Err(), "tunnel %s was stopped during start", name)
	}
	if err != nil {
		cancel()
		c.cancel, c.done = nil, nil
		c.transitionLocked(StateFailed, err, nil)
		c.mu.Unlock()
		close(done)
		c.flush()
		return err
	}
	c.publicURL = sess.PublicURL
	if err := c.persistLocked(StateStarting, nil, func(t *store.TunnelConfig) {
		t.PublicURL = sess.PublicURL
	}); err != nil {
		logging.Error("Tunnel", err, "Failed to persist public URL of %s", name)
	}
	c.mu.Unlock()

	logging.Info("Tunnel", "%s is up at %s, verifying", name, sess.PublicURL)
	go c.run(loopCtx, sess, done)
	return nil
}

// Stop cancels the session loops, terminates the client and records
// STOPPED. Stopping an idle tunnel is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Running() && c.state != StateFailed {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	if cancel != nil {
		cancel()
	}
	c.publicURL = ""
	err := c.persistLocked(StateStopped, nil, func(t *store.TunnelConfig) {
		t.PublicURL = ""
	})
	c.mu.Unlock()
	c.flush()

	stopErr := c.provider.Stop(ctx)
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	logging.Info("Tunnel", "Stopped %s", c.provider.Name())
	return errors.Join(err, stopErr)
}

// run verifies a fresh session and then watches its liveness until ctx is
// cancelled or the client exits.
func (c *Controller) run(ctx context.Context, sess *Session, done chan struct{}) {
	defer close(done)
	exited := sess.Process.Done()

	attempts := c.settings.ProbeAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	var verifiedAt *time.Time
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-exited:
			c.clientExited(ctx, sess)
			return
		default:
		}
		probedAt := c.now()
		if lastErr = c.provider.Verify(ctx); lastErr == nil {
			verifiedAt = &probedAt
			break
		}
		logging.Debug("Tunnel", "%s probe %d/%d failed: %v", c.provider.Name(), attempt, attempts, lastErr)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-exited:
			c.clientExited(ctx, sess)
			return
		case <-time.After(c.settings.ProbeDelay):
		}
	}
	if ctx.Err() != nil {
		return
	}
	if verifiedAt != nil {
		c.transition(ctx, StateActive, nil, verifiedAt)
	} else {
		logging.Warn("Tunnel", "%s did not answer %d probes, leaving it running as degraded", c.provider.Name(), attempts)
		c.transition(ctx, StateDegraded, lastErr, nil)
	}

	interval := c.settings.LivenessInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-exited:
			c.clientExited(ctx, sess)
			return
		case <-ticker.C:
			probedAt := c.now()
			if err := c.provider.Verify(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if c.State() == StateActive {
					logging.Warn("Tunnel", "%s liveness probe failed: %v", c.provider.Name(), err)
				}
				c.transition(ctx, StateDegraded, err, nil)
				continue
			}
			c.transition(ctx, StateActive, nil, &probedAt)
		}
	}
}

func (c *Controller) clientExited(ctx context.Context, sess *Session) {
	err := sess.Process.Err()
	if err == nil {
		err = errors.New("client exited")
	}
	err = errdefs.Transient(err, "tunnel client for %s exited unexpectedly", c.provider.Name())
	if c.transition(ctx, StateFailed, err, nil) {
		logging.Error("Tunnel", err, "%s failed", c.provider.Name())
		c.provider.Stop(context.Background())
	}
}

// transition applies a loop-driven state change unless the session that
// produced it has been cancelled. verifiedAt is the time of the probe that
// succeeded, if any. It reports whether the change was applied.
func (c *Controller) transition(ctx context.Context, to State, cause error, verifiedAt *time.Time) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.transitionLocked(to, cause, verifiedAt)
	c.mu.Unlock()
	c.flush()
	return true
}

func (c *Controller) transitionLocked(to State, cause error, verifiedAt *time.Time) {
	if to == StateFailed {
		c.publicURL = ""
	}
	err := c.persistLocked(to, cause, func(t *store.TunnelConfig) {
		if verifiedAt != nil {
			t.LastVerified = verifiedAt
		}
		if to == StateActive {
			t.RestartCount = 0
		}
		if to == StateFailed {
			t.PublicURL = ""
		}
	})
	if err != nil {
		logging.Error("Tunnel", err, "Failed to persist %s state %s", c.provider.Name(), to)
	}
	if verifiedAt != nil {
		c.lastVerified = verifiedAt
	}
}

// persistLocked writes state, activity and error fields plus any extra
// mutation, then records the transition for the callback.
func (c *Controller) persistLocked(to State, cause error, extra func(t *store.TunnelConfig)) error {
	_, err := c.store.UpdateTunnel(c.provider.Name(), func(t *store.TunnelConfig) error {
		t.State = string(to)
		// Only a verified tunnel counts as active.
		t.IsActive = to == StateActive
		if cause != nil {
			t.LastError = cause.Error()
		} else if to == StateActive || to == StateStarting {
			t.LastError = ""
		}
		if extra != nil {
			extra(t)
		}
		return nil
	})
	c.setStateLocked(to, cause)
	return err
}

func (c *Controller) recordErrorLocked(cause error) {
	_, err := c.store.UpdateTunnel(c.provider.Name(), func(t *store.TunnelConfig) error {
		t.LastError = cause.Error()
		return nil
	})
	if err != nil {
		logging.Error("Tunnel", err, "Failed to record error for %s", c.provider.Name())
	}
}

func (c *Controller) setStateLocked(to State, cause error) {
	from := c.state
	c.state = to
	if from == to && cause == nil {
		return
	}
	if from != to {
		logging.Debug("Tunnel", "%s: %s -> %s", c.provider.Name(), from, to)
	}
	c.pending = append(c.pending, StateChange{Provider: c.provider.Name(), From: from, To: to, Err: cause})
}

// flush delivers queued transitions outside the lock.
func (c *Controller) flush() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	cb := c.onChange
	c.mu.Unlock()
	if cb == nil {
		return
	}
	for _, change := range pending {
		cb(change)
	}
}
