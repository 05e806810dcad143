package orchestrator

import (
	"context"
	"time"

	"labelctl/internal/printer"
	"labelctl/internal/store"
	"labelctl/internal/tunnel"
)

// StatusReader is the read-only view Status is computed from.
type StatusReader interface {
	ListPortBindings() ([]store.PortBinding, error)
	ListPrinters() ([]store.PrinterConfig, error)
	ListTunnels() ([]store.TunnelConfig, error)
	GetScalar(key string) (string, bool, error)
}

// Snapshot is the consolidated status of the daemon.
type Snapshot struct {
	Ports    []PortStatus    `json:"ports" yaml:"ports"`
	Printer  PrinterStatus   `json:"printer" yaml:"printer"`
	Tunnel   TunnelStatus    `json:"tunnel" yaml:"tunnel"`
	Printers []PrinterStatus `json:"printers" yaml:"printers"`
	Tunnels  []TunnelStatus  `json:"tunnels" yaml:"tunnels"`
}

// PortStatus is one port binding.
type PortStatus struct {
	Service   string `json:"service" yaml:"service"`
	Requested int    `json:"requested" yaml:"requested"`
	Bound     int    `json:"bound" yaml:"bound"`
	Protocol  string `json:"protocol" yaml:"protocol"`
}

// PrinterStatus describes a registered printer.
type PrinterStatus struct {
	Name       string `json:"name" yaml:"name"`
	State      string `json:"state" yaml:"state"`
	Connection string `json:"connection" yaml:"connection"`
	DeviceURI  string `json:"device_uri,omitempty" yaml:"device_uri,omitempty"`
	IsDefault  bool   `json:"is_default" yaml:"is_default"`
}

// TunnelStatus describes one tunnel provider.
type TunnelStatus struct {
	Provider     string     `json:"provider" yaml:"provider"`
	Domain       string     `json:"domain" yaml:"domain"`
	State        string     `json:"state" yaml:"state"`
	PublicURL    string     `json:"public_url" yaml:"public_url"`
	LastVerified *time.Time `json:"last_verified" yaml:"last_verified"`
	LastError    string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	RestartCount int        `json:"restart_count" yaml:"restart_count"`
}

// Status returns the current snapshot built from database reads.
func (o *Orchestrator) Status(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return BuildSnapshot(o.store, o.cfg.Tunnel.Provider)
}

// BuildSnapshot assembles a Snapshot from r. primaryProvider picks the
// headline tunnel when none is running.
func BuildSnapshot(r StatusReader, primaryProvider string) (Snapshot, error) {
	snap := Snapshot{
		Ports:    []PortStatus{},
		Printers: []PrinterStatus{},
		Tunnels:  []TunnelStatus{},
	}

	bindings, err := r.ListPortBindings()
	if err != nil {
		return Snapshot{}, err
	}
	for _, b := range bindings {
		snap.Ports = append(snap.Ports, PortStatus{
			Service:   b.ServiceName,
			Requested: b.RequestedPort,
			Bound:     b.BoundPort,
			Protocol:  b.Protocol,
		})
	}

	printers, err := r.ListPrinters()
	if err != nil {
		return Snapshot{}, err
	}
	snap.Printer = PrinterStatus{State: "none"}
	for i, p := range printers {
		state, ok, err := r.GetScalar(store.PrinterStateKey(p.Name))
		if err != nil {
			return Snapshot{}, err
		}
		if !ok {
			state = "unknown"
		}
		ps := PrinterStatus{
			Name:       p.Name,
			State:      state,
			Connection: p.ConnectionType,
			DeviceURI:  p.DeviceURI,
			IsDefault:  p.IsDefault,
		}
		if ps.Connection == "" {
			ps.Connection = printer.ConnectionType(p.DeviceURI)
		}
		snap.Printers = append(snap.Printers, ps)
		if p.IsDefault || i == 0 {
			snap.Printer = ps
		}
	}

	rows, err := r.ListTunnels()
	if err != nil {
		return Snapshot{}, err
	}
	snap.Tunnel = TunnelStatus{Provider: primaryProvider, State: string(tunnel.StateUnconfigured)}
	headline := -1
	for i, row := range rows {
		ts := TunnelStatus{
			Provider:     row.Provider,
			Domain:       row.Domain,
			State:        row.State,
			PublicURL:    row.PublicURL,
			LastVerified: row.LastVerified,
			LastError:    row.LastError,
			RestartCount: row.RestartCount,
		}
		snap.Tunnels = append(snap.Tunnels, ts)
		switch {
		case row.IsActive && (headline < 0 || !rows[headline].IsActive):
			headline = i
		case headline < 0 && row.Provider == primaryProvider:
			headline = i
		}
	}
	if headline >= 0 {
		snap.Tunnel = snap.Tunnels[headline]
	}
	return snap, nil
}
