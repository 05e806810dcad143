package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/apimachinery/pkg/util/wait"

	"labelctl/internal/config"
	"labelctl/internal/errdefs"
	"labelctl/internal/ports"
	"labelctl/internal/store"
	"labelctl/internal/tunnel"
	"labelctl/pkg/logging"
)

const rescanTimeout = 2 * time.Minute

// allocatePorts binds every configured service plus the control endpoint.
func (o *Orchestrator) allocatePorts(ctx context.Context) ([]store.PortBinding, error) {
	requests := o.portRequests()
	bindings := make([]store.PortBinding, 0, len(requests))
	for _, req := range requests {
		b, err := o.allocator.FindAvailable(ctx, req)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// portRequests lists the configured services plus the control endpoint.
func (o *Orchestrator) portRequests() []ports.Request {
	services := append([]config.ServicePort{}, o.cfg.Services...)
	services = append(services, config.ServicePort{Name: config.ServiceControl, Port: o.cfg.Control.Port, Protocol: "tcp"})

	requests := make([]ports.Request, 0, len(services))
	for _, svc := range services {
		requests = append(requests, ports.Request{
			ServiceName: svc.Name,
			DesiredPort: svc.Port,
			Ceiling:     svc.Ceiling,
			Protocol:    svc.Protocol,
		})
	}
	return requests
}

// RebindPort moves service to the next free port above failedPort, for a
// caller whose bind lost a race after allocation. The new binding is
// persisted; a *ports.ExhaustedRangeError is returned past the ceiling.
func (o *Orchestrator) RebindPort(ctx context.Context, service string, failedPort int) (store.PortBinding, error) {
	for _, req := range o.portRequests() {
		if req.ServiceName == service {
			return o.allocator.NextAfter(ctx, req, failedPort)
		}
	}
	return store.PortBinding{}, errdefs.NotFound("no port is configured for service %s", service)
}

// waitForSpooler polls the spooler until it answers or the ready timeout ends.
func (o *Orchestrator) waitForSpooler(ctx context.Context) error {
	interval := o.cfg.Spooler.ReadyPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	timeout := o.cfg.Spooler.ReadyTimeout

	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		if err := o.spooler.Ready(ctx); err != nil {
			if errdefs.IsPermanent(err) {
				return false, err
			}
			lastErr = err
			logging.Debug("Orchestrator", "Print spooler not ready: %v", err)
			return false, nil
		}
		return true, nil
	})
	switch {
	case err == nil:
		logging.Info("Orchestrator", "Print spooler is ready")
		return nil
	case errdefs.IsPermanent(err):
		return err
	case lastErr != nil:
		return errdefs.Transient(lastErr, "print spooler not ready after %s", timeout)
	default:
		return errdefs.Transient(err, "print spooler not ready after %s", timeout)
	}
}

// seedTunnelDomain applies a domain from configuration to a provider that
// has none persisted yet. An operator-set domain always wins.
func (o *Orchestrator) seedTunnelDomain(ctx context.Context) {
	domain := o.cfg.Tunnel.Domain
	if domain == "" {
		return
	}
	ctrl, err := o.tunnels.Get(o.cfg.Tunnel.Provider)
	if err != nil {
		logging.Warn("Orchestrator", "Configured tunnel provider %s is not available", o.cfg.Tunnel.Provider)
		return
	}
	if !ctrl.Requirements().Domain || ctrl.Info().Domain != "" {
		return
	}
	if err := ctrl.SetDomain(ctx, domain); err != nil {
		logging.Error("Orchestrator", err, "Ignoring configured tunnel domain %q", domain)
	}
}

// startConfiguredTunnels starts every configured tunnel in its own goroutine.
// A tunnel that was still being restarted keeps counting against its restart
// budget, and one that spent it stays FAILED until an operator starts it.
func (o *Orchestrator) startConfiguredTunnels() {
	rows, err := o.store.ListTunnels()
	if err != nil {
		logging.Error("Orchestrator", err, "Failed to list tunnels")
		return
	}
	for _, row := range rows {
		if !row.IsConfigured {
			continue
		}
		ctrl, err := o.tunnels.Get(row.Provider)
		if err != nil {
			logging.Warn("Orchestrator", "Skipping tunnel for unknown provider %s", row.Provider)
			continue
		}
		if ctrl.State() == tunnel.StateFailed {
			logging.Warn("Orchestrator", "Tunnel %s spent its %d restarts, start it manually", row.Provider, row.RestartCount)
			continue
		}
		start := ctrl.Start
		if row.RestartCount > 0 {
			start = ctrl.Restart
		}
		o.background.Add(1)
		go func() {
			defer o.background.Done()
			if err := start(o.ctx); err != nil {
				logging.Error("Orchestrator", err, "Failed to start tunnel %s", ctrl.Provider())
			}
		}()
	}
}

// startScheduler schedules periodic printer rescans.
func (o *Orchestrator) startScheduler() error {
	spec := o.cfg.Spooler.RescanSchedule
	if spec == "" {
		return nil
	}
	sched := cron.New()
	if _, err := sched.AddFunc(spec, o.scheduledRescan); err != nil {
		return errdefs.Validation("invalid spooler.rescanSchedule %q: %v", spec, err)
	}
	sched.Start()

	o.mu.Lock()
	o.scheduler = sched
	o.mu.Unlock()
	logging.Debug("Orchestrator", "Printer rescan scheduled %s", spec)
	return nil
}

func (o *Orchestrator) scheduledRescan() {
	ctx, cancel := context.WithTimeout(o.ctx, rescanTimeout)
	defer cancel()
	sum, err := o.Rescan(ctx)
	if err != nil {
		logging.Warn("Orchestrator", "Scheduled printer rescan failed: %v", err)
		return
	}
	logging.Debug("Orchestrator", "Scheduled rescan: %d devices, %d new", sum.Discovered, len(sum.Created))
}

// describe is used in log lines for a binding.
func describe(b store.PortBinding) string {
	return fmt.Sprintf("%s=%d/%s", b.ServiceName, b.BoundPort, b.Protocol)
}
