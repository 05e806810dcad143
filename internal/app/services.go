package app

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"labelctl/internal/api"
	"labelctl/internal/config"
	"labelctl/internal/orchestrator"
	"labelctl/internal/spooler"
	"labelctl/internal/store"
	"labelctl/pkg/logging"
)

const (
	shutdownTimeout = 15 * time.Second
	// maxControlBindAttempts bounds how often a lost bind race is retried.
	maxControlBindAttempts = 5
)

// Services holds the daemon's long-lived components
type Services struct {
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	// Control is created by Start once the control port is bound.
	Control *api.Server

	cfg *Config
}

// InitializeServices opens the store and builds the orchestrator around the
// host's CUPS tools
func InitializeServices(cfg *Config) (*Services, error) {
	if cfg.LabelctlConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return initializeServices(cfg, orchestrator.Deps{
		Spooler: spooler.NewCUPS(spooler.ExecRunner{}, cfg.LabelctlConfig.Spooler.CommandTimeout),
	})
}

func initializeServices(cfg *Config, deps orchestrator.Deps) (*Services, error) {
	if cfg.LabelctlConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	st, err := store.Open(cfg.LabelctlConfig.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	deps.Store = st

	orch, err := orchestrator.New(cfg.LabelctlConfig, deps)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}

	return &Services{
		Store:        st,
		Orchestrator: orch,
		cfg:          cfg,
	}, nil
}

// Start runs the orchestrator's startup sequence and then serves the control
// endpoint on the port it bound. If that port is taken between allocation
// and bind, the next free port above it is allocated and tried instead.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Orchestrator.Start(ctx); err != nil {
		return err
	}

	b, err := s.Store.GetPortBinding(config.ServiceControl)
	if err != nil {
		return fmt.Errorf("control port not bound: %w", err)
	}
	port := b.BoundPort
	for attempt := 1; ; attempt++ {
		control := api.NewServer(s.Orchestrator, s.cfg.LabelctlConfig.Control.Host, port, s.cfg.Version)
		err := control.Start(ctx)
		if err == nil {
			s.Control = control
			break
		}
		if !errors.Is(err, syscall.EADDRINUSE) || attempt >= maxControlBindAttempts {
			return fmt.Errorf("failed to start control endpoint: %w", err)
		}
		logging.Warn("Services", "Control port %d was taken after allocation, trying the next one", port)
		next, err := s.Orchestrator.RebindPort(ctx, config.ServiceControl, port)
		if err != nil {
			return fmt.Errorf("failed to rebind control endpoint: %w", err)
		}
		port = next.BoundPort
	}
	logging.Info("Services", "Control endpoint listening on %s", s.Control.Endpoint())
	return nil
}

// Shutdown stops the control endpoint and the orchestrator, then closes the store.
func (s *Services) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if s.Control != nil {
		if err := s.Control.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop control endpoint: %w", err))
		}
	}
	if err := s.Orchestrator.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop orchestrator: %w", err))
	}
	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
