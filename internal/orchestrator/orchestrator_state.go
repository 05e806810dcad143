package orchestrator

import (
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"labelctl/internal/errdefs"
	"labelctl/internal/tunnel"
	"labelctl/pkg/logging"
)

// maxRestartDelay caps the exponential restart backoff.
const maxRestartDelay = 5 * time.Minute

// handleTunnelStateChange fans a transition out to subscribers and applies
// the restart policy.
func (o *Orchestrator) handleTunnelStateChange(change tunnel.StateChange) {
	logging.Debug("Orchestrator", "Tunnel state update: %s %s -> %s", change.Provider, change.From, change.To)
	o.publish(change)

	switch change.To {
	case tunnel.StateFailed:
		o.scheduleRestart(change)
	case tunnel.StateActive, tunnel.StateStopped:
		o.cancelRestart(change.Provider)
	}
}

func (o *Orchestrator) publish(change tunnel.StateChange) {
	event := TunnelStateChangedEvent{
		Provider: change.Provider,
		OldState: string(change.From),
		NewState: string(change.To),
		Error:    change.Err,
	}

	// Send to all subscribers (don't hold the lock while sending)
	o.mu.RLock()
	subscribers := make([]chan<- TunnelStateChangedEvent, len(o.stateChangeSubscribers))
	copy(subscribers, o.stateChangeSubscribers)
	o.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			logging.Warn("Orchestrator", "Dropped state change event for %s (subscriber channel full)", change.Provider)
		}
	}
}

// scheduleRestart arms a backoff timer for a failed tunnel unless the
// failure needs the operator or the restart budget is spent.
func (o *Orchestrator) scheduleRestart(change tunnel.StateChange) {
	if errdefs.IsPermanent(change.Err) || errdefs.IsValidation(change.Err) {
		logging.Warn("Orchestrator", "Not restarting %s: %v (%s)", change.Provider, change.Err, errdefs.Hint(change.Err))
		return
	}
	ctrl, err := o.tunnels.Get(change.Provider)
	if err != nil {
		return
	}
	attempt := ctrl.Info().RestartCount

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return
	}
	if _, pending := o.pendingRestarts[change.Provider]; pending {
		return
	}
	if attempt >= o.cfg.Tunnel.MaxRestarts {
		logging.Error("Orchestrator", change.Err, "Tunnel %s failed %d times, giving up until started manually", change.Provider, attempt)
		return
	}

	delay := restartDelay(o.cfg.Tunnel.RestartBackoff, attempt)
	logging.Info("Orchestrator", "Restarting tunnel %s in %s (attempt %d/%d)", change.Provider, delay, attempt+1, o.cfg.Tunnel.MaxRestarts)
	provider := change.Provider
	o.pendingRestarts[provider] = time.AfterFunc(delay, func() {
		o.mu.Lock()
		_, pending := o.pendingRestarts[provider]
		delete(o.pendingRestarts, provider)
		started := o.started
		ctx := o.ctx
		o.mu.Unlock()
		if !pending || !started || ctrl.State() != tunnel.StateFailed {
			return
		}
		if err := ctrl.Restart(ctx); err != nil {
			logging.Error("Orchestrator", err, "Restart of tunnel %s failed", provider)
		}
	})
}

func (o *Orchestrator) cancelRestart(provider string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.pendingRestarts[provider]; ok {
		t.Stop()
		delete(o.pendingRestarts, provider)
	}
}

// restartDelay returns base doubled attempt times, capped at maxRestartDelay.
func restartDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	b := wait.Backoff{Duration: base, Factor: 2, Steps: attempt + 1, Cap: maxRestartDelay}
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.Step()
	}
	return d
}
