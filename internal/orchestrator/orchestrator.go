package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"labelctl/internal/config"
	"labelctl/internal/errdefs"
	"labelctl/internal/ports"
	"labelctl/internal/printer"
	"labelctl/internal/spooler"
	"labelctl/internal/store"
	"labelctl/internal/tunnel"
	"labelctl/pkg/logging"
)

// Deps are the collaborators the orchestrator drives. Store and Spooler are
// required; the rest default to the real implementations.
type Deps struct {
	Store   *store.Store
	Spooler spooler.Spooler

	// PortProbe overrides the socket probe used by the port allocator.
	PortProbe ports.ProbeFunc
	// Launcher and Prober override how tunnel clients are run and checked.
	Launcher tunnel.Launcher
	Prober   tunnel.Prober
	// Providers limits which tunnel providers get a controller.
	// Empty means every registered provider.
	Providers []string
}

// Orchestrator owns the component graph of a running labelctl daemon.
type Orchestrator struct {
	cfg       *config.LabelctlConfig
	store     *store.Store
	spooler   spooler.Spooler
	allocator *ports.Allocator
	registrar *printer.Registrar
	tunnels   *tunnel.Manager
	scheduler *cron.Cron

	// Context for background work, cancelled by Stop.
	ctx        context.Context
	cancelFunc context.CancelFunc
	background sync.WaitGroup

	// rescanMu serialises discovery passes from the scheduler and operators.
	rescanMu sync.Mutex

	mu                     sync.RWMutex
	started                bool
	pendingRestarts        map[string]*time.Timer
	stateChangeSubscribers []chan<- TunnelStateChangedEvent
}

// New builds the component graph without starting anything.
func New(cfg *config.LabelctlConfig, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil || deps.Spooler == nil {
		return nil, fmt.Errorf("orchestrator needs a store and a spooler")
	}

	var allocOpts []ports.Option
	if deps.PortProbe != nil {
		allocOpts = append(allocOpts, ports.WithProbe(deps.PortProbe))
	}

	o := &Orchestrator{
		cfg:             cfg,
		store:           deps.Store,
		spooler:         deps.Spooler,
		allocator:       ports.NewAllocator(deps.Store, allocOpts...),
		registrar:       printer.NewRegistrar(deps.Spooler, deps.Store, cfg.Spooler.VendorTokens, cfg.Spooler.Driver),
		tunnels:         tunnel.NewManager(),
		pendingRestarts: make(map[string]*time.Timer),
	}

	providers := deps.Providers
	if len(providers) == 0 {
		providers = tunnel.Providers()
	}
	creds := tunnel.NewCredentialResolver(cfg.Credentials)
	providerDeps := tunnel.Deps{Launcher: deps.Launcher, Prober: deps.Prober, DataDir: cfg.DataDir}
	for _, name := range providers {
		p, err := tunnel.NewProvider(name, cfg.Tunnel, providerDeps)
		if err != nil {
			return nil, err
		}
		ctrl, err := tunnel.NewController(p, deps.Store, creds, cfg.Tunnel, o.localPort)
		if err != nil {
			return nil, err
		}
		if err := o.tunnels.Add(ctrl); err != nil {
			return nil, err
		}
	}
	o.tunnels.SetStateChangeCallback(o.handleTunnelStateChange)

	return o, nil
}

// localPort is the port tunnels forward to: the one bound for the exposed service.
func (o *Orchestrator) localPort() (int, error) {
	b, err := o.store.GetPortBinding(o.cfg.Tunnel.LocalService)
	if err != nil {
		return 0, err
	}
	return b.BoundPort, nil
}

// Start runs the startup sequence. Calling it on a started orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.ctx, o.cancelFunc = context.WithCancel(context.WithoutCancel(ctx))
	o.started = true
	o.mu.Unlock()

	if err := o.start(ctx); err != nil {
		o.Stop(context.Background())
		return err
	}
	return nil
}

func (o *Orchestrator) start(ctx context.Context) error {
	bindings, err := o.allocatePorts(ctx)
	if err != nil {
		return fmt.Errorf("failed to allocate ports: %w", err)
	}
	for _, b := range bindings {
		logging.Debug("Orchestrator", "Port binding %s", describe(b))
	}

	if err := o.waitForSpooler(ctx); err != nil {
		return err
	}

	if _, err := o.Rescan(ctx); err != nil {
		logging.Error("Orchestrator", err, "Printer discovery failed, continuing without new printers")
	}

	if err := o.store.EnsureSchema(); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	o.seedTunnelDomain(ctx)
	o.startConfiguredTunnels()

	if err := o.startScheduler(); err != nil {
		return err
	}
	logging.Info("Orchestrator", "Startup complete")
	return nil
}

// Stop stops the scheduler, pending restarts and every tunnel. It waits for
// background starts to return or ctx to end.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	for provider, t := range o.pendingRestarts {
		t.Stop()
		delete(o.pendingRestarts, provider)
	}
	sched := o.scheduler
	o.scheduler = nil
	o.mu.Unlock()

	var wg sync.WaitGroup
	if sched != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-sched.Stop().Done():
			case <-ctx.Done():
			}
		}()
	}
	var stopErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		stopErr = o.tunnels.StopAll(ctx)
	}()
	wg.Wait()

	done := make(chan struct{})
	go func() {
		o.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if stopErr != nil {
		logging.Error("Orchestrator", stopErr, "Failed to stop tunnels cleanly")
	}
	logging.Info("Orchestrator", "Stopped")
	return stopErr
}

// Rescan runs discovery and registration, then refreshes printer states.
func (o *Orchestrator) Rescan(ctx context.Context) (printer.Summary, error) {
	o.rescanMu.Lock()
	defer o.rescanMu.Unlock()

	sum, err := o.registrar.Sync(ctx)
	if err != nil {
		return sum, err
	}
	if len(sum.Created) > 0 {
		logging.Info("Orchestrator", "Registered new printers: %v", sum.Created)
	}
	if err := o.registrar.Refresh(ctx); err != nil {
		logging.Warn("Orchestrator", "Failed to refresh printer state: %v", err)
	}
	return sum, nil
}

// StartTunnel is an operator start: it cancels any pending automatic restart
// and resets the restart budget.
func (o *Orchestrator) StartTunnel(ctx context.Context, provider string) error {
	ctrl, err := o.tunnels.Get(provider)
	if err != nil {
		return err
	}
	o.cancelRestart(provider)
	return ctrl.Start(ctx)
}

// StopTunnel stops provider and cancels any pending automatic restart.
func (o *Orchestrator) StopTunnel(ctx context.Context, provider string) error {
	ctrl, err := o.tunnels.Get(provider)
	if err != nil {
		return err
	}
	o.cancelRestart(provider)
	return ctrl.Stop(ctx)
}

// SetTunnelDomain sets the domain of provider.
func (o *Orchestrator) SetTunnelDomain(ctx context.Context, provider, domain string) error {
	ctrl, err := o.tunnels.Get(provider)
	if err != nil {
		return err
	}
	return ctrl.SetDomain(ctx, domain)
}

// ConfigureTunnel marks provider configured with an optional credential reference.
func (o *Orchestrator) ConfigureTunnel(ctx context.Context, provider, credentialRef string) error {
	ctrl, err := o.tunnels.Get(provider)
	if err != nil {
		return err
	}
	return ctrl.Configure(ctx, credentialRef)
}

// RemovePrinter forgets a printer.
func (o *Orchestrator) RemovePrinter(ctx context.Context, name string) error {
	if name == "" {
		return errdefs.Validation("printer name is required")
	}
	return o.registrar.Remove(ctx, name)
}

// Tunnels exposes the tunnel controllers.
func (o *Orchestrator) Tunnels() *tunnel.Manager { return o.tunnels }

// TunnelInfos reports every tunnel controller in registration order.
func (o *Orchestrator) TunnelInfos() []tunnel.Info {
	ctrls := o.tunnels.List()
	infos := make([]tunnel.Info, 0, len(ctrls))
	for _, c := range ctrls {
		infos = append(infos, c.Info())
	}
	return infos
}

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() *config.LabelctlConfig { return o.cfg }

// SubscribeToStateChanges returns a channel receiving tunnel state changes.
// Events are dropped when the subscriber falls behind.
func (o *Orchestrator) SubscribeToStateChanges() <-chan TunnelStateChangedEvent {
	eventChan := make(chan TunnelStateChangedEvent, 100)

	o.mu.Lock()
	o.stateChangeSubscribers = append(o.stateChangeSubscribers, eventChan)
	o.mu.Unlock()

	return eventChan
}

// TunnelStateChangedEvent represents a tunnel state change event.
type TunnelStateChangedEvent struct {
	Provider string
	OldState string
	NewState string
	Error    error
}
