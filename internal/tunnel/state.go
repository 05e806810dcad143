package tunnel

// State is a TunnelController lifecycle state.
type State string

const (
	StateUnconfigured State = "UNCONFIGURED"
	StateConfigured   State = "CONFIGURED"
	StateStarting     State = "STARTING"
	StateActive       State = "ACTIVE"
	StateDegraded     State = "DEGRADED"
	StateStopped      State = "STOPPED"
	StateFailed       State = "FAILED"
)

// Running reports whether a client process is expected to be alive in s.
func (s State) Running() bool {
	return s == StateStarting || s == StateActive || s == StateDegraded
}

// Startable reports whether Start is accepted from s.
func (s State) Startable() bool {
	switch s {
	case StateConfigured, StateDegraded, StateStopped, StateFailed:
		return true
	}
	return false
}

// StateChange describes one transition.
type StateChange struct {
	Provider string
	From     State
	To       State
	Err      error
}

// StateChangeCallback is invoked after every transition, outside any lock.
type StateChangeCallback func(change StateChange)
