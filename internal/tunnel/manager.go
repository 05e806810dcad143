package tunnel

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"labelctl/internal/errdefs"
)

// Manager owns one controller per provider.
type Manager struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
	order       []string
	onChange    StateChangeCallback
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{controllers: make(map[string]*Controller)}
}

// Add registers c. Adding a second controller for the same provider fails.
func (m *Manager) Add(c *Controller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := c.Provider()
	if _, exists := m.controllers[name]; exists {
		return fmt.Errorf("tunnel controller for %s already registered", name)
	}
	m.controllers[name] = c
	m.order = append(m.order, name)
	if m.onChange != nil {
		c.SetStateChangeCallback(m.onChange)
	}
	return nil
}

// Get returns the controller for provider.
func (m *Manager) Get(provider string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[provider]
	if !ok {
		return nil, errdefs.NotFound("no tunnel provider %q", provider)
	}
	return c, nil
}

// List returns controllers in registration order.
func (m *Manager) List() []*Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Controller, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.controllers[name])
	}
	return out
}

// SetStateChangeCallback installs cb on every current and future controller.
func (m *Manager) SetStateChangeCallback(cb StateChangeCallback) {
	m.mu.Lock()
	m.onChange = cb
	controllers := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.mu.Unlock()
	for _, c := range controllers {
		c.SetStateChangeCallback(cb)
	}
}

// StopAll stops every controller concurrently.
func (m *Manager) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, c := range m.List() {
		c := c
		g.Go(func() error {
			if err := c.Stop(ctx); err != nil {
				return fmt.Errorf("stop %s: %w", c.Provider(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
