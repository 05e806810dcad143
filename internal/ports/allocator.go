// Package ports finds free listening ports for labelctl services and
// records the outcome so that other components and the CLI can find them.
package ports

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"labelctl/internal/errdefs"
	"labelctl/internal/store"
	"labelctl/pkg/logging"
)

// DefaultRange is how far above the desired port the allocator searches
// when no ceiling is given.
const DefaultRange = 100

// Request describes what a service wants.
type Request struct {
	ServiceName string
	DesiredPort int
	Ceiling     int    // inclusive; 0 means DesiredPort+DefaultRange
	Protocol    string // "tcp" (default) or "udp"
}

func (r Request) normalize() (Request, error) {
	if r.ServiceName == "" {
		return r, errdefs.Validation("service name is required")
	}
	if r.DesiredPort <= 0 || r.DesiredPort > 65535 {
		return r, errdefs.Validation("desired port %d out of range", r.DesiredPort)
	}
	if r.Ceiling == 0 {
		r.Ceiling = r.DesiredPort + DefaultRange
	}
	if r.Ceiling > 65535 {
		r.Ceiling = 65535
	}
	if r.Ceiling < r.DesiredPort {
		return r, errdefs.Validation("ceiling %d below desired port %d", r.Ceiling, r.DesiredPort)
	}
	r.Protocol = strings.ToLower(r.Protocol)
	if r.Protocol == "" {
		r.Protocol = "tcp"
	}
	if r.Protocol != "tcp" && r.Protocol != "udp" {
		return r, errdefs.Validation("unsupported protocol %q", r.Protocol)
	}
	return r, nil
}

// ExhaustedRangeError is returned when every port in the range is taken.
type ExhaustedRangeError struct {
	ServiceName string
	Desired     int
	Ceiling     int
}

func (e *ExhaustedRangeError) Error() string {
	return fmt.Sprintf("no free port for %s in range %d-%d", e.ServiceName, e.Desired, e.Ceiling)
}

// Is classifies the error as resource exhaustion.
func (e *ExhaustedRangeError) Is(target error) bool {
	return target == errdefs.ErrResourceExhausted
}

// BindingStore is the slice of the ConfigStore the allocator needs.
type BindingStore interface {
	SavePortBinding(b store.PortBinding) error
	ListPortBindings() ([]store.PortBinding, error)
}

// ProbeFunc reports whether a listener could be opened on port right now.
type ProbeFunc func(protocol, host string, port int) bool

// Allocator is the PortAllocator.
type Allocator struct {
	store BindingStore
	host  string
	probe ProbeFunc
	now   func() time.Time
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithHost sets the interface probed for availability (default all interfaces).
func WithHost(host string) Option {
	return func(a *Allocator) { a.host = host }
}

// WithProbe replaces the socket probe, mainly for tests.
func WithProbe(p ProbeFunc) Option {
	return func(a *Allocator) { a.probe = p }
}

// NewAllocator creates an Allocator persisting into s.
func NewAllocator(s BindingStore, opts ...Option) *Allocator {
	a := &Allocator{store: s, probe: ListenProbe, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListenProbe opens and immediately closes a listener on host:port.
func ListenProbe(protocol, host string, port int) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if protocol == "udp" {
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		pc.Close()
		return true
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// FindAvailable probes DesiredPort..Ceiling in order and persists the first
// port that is free. The result is advisory: another process may take the
// port before the caller binds it, in which case the caller should use NextAfter.
func (a *Allocator) FindAvailable(ctx context.Context, req Request) (store.PortBinding, error) {
	req, err := req.normalize()
	if err != nil {
		return store.PortBinding{}, err
	}
	return a.search(ctx, req, req.DesiredPort)
}

// NextAfter re-runs the search strictly above a port the caller failed to bind.
func (a *Allocator) NextAfter(ctx context.Context, req Request, failedPort int) (store.PortBinding, error) {
	req, err := req.normalize()
	if err != nil {
		return store.PortBinding{}, err
	}
	if failedPort >= req.Ceiling {
		return store.PortBinding{}, &ExhaustedRangeError{ServiceName: req.ServiceName, Desired: req.DesiredPort, Ceiling: req.Ceiling}
	}
	start := failedPort + 1
	if start < req.DesiredPort {
		start = req.DesiredPort
	}
	return a.search(ctx, req, start)
}

func (a *Allocator) search(ctx context.Context, req Request, start int) (store.PortBinding, error) {
	reserved, err := a.reservedByOthers(req.ServiceName, req.Protocol)
	if err != nil {
		return store.PortBinding{}, err
	}

	for port := start; port <= req.Ceiling; port++ {
		if err := ctx.Err(); err != nil {
			return store.PortBinding{}, err
		}
		if reserved[port] {
			logging.Debug("Ports", "Port %d already recorded for another service, skipping", port)
			continue
		}
		if !a.probe(req.Protocol, a.host, port) {
			logging.Debug("Ports", "Port %d/%s is in use", port, req.Protocol)
			continue
		}

		binding := store.PortBinding{
			ServiceName:   req.ServiceName,
			RequestedPort: req.DesiredPort,
			BoundPort:     port,
			Protocol:      req.Protocol,
			CheckedAt:     a.now(),
		}
		if err := a.store.SavePortBinding(binding); err != nil {
			return store.PortBinding{}, fmt.Errorf("persist port binding: %w", err)
		}
		if port != req.DesiredPort {
			logging.Warn("Ports", "Port %d for %s is busy, using %d instead", req.DesiredPort, req.ServiceName, port)
		} else {
			logging.Info("Ports", "Allocated port %d/%s for %s", port, req.Protocol, req.ServiceName)
		}
		return binding, nil
	}

	return store.PortBinding{}, &ExhaustedRangeError{ServiceName: req.ServiceName, Desired: req.DesiredPort, Ceiling: req.Ceiling}
}

// reservedByOthers returns ports held by other services' persisted bindings.
func (a *Allocator) reservedByOthers(service, protocol string) (map[int]bool, error) {
	bindings, err := a.store.ListPortBindings()
	if err != nil {
		return nil, fmt.Errorf("list port bindings: %w", err)
	}
	reserved := make(map[int]bool, len(bindings))
	for _, b := range bindings {
		if b.ServiceName != service && b.Protocol == protocol {
			reserved[b.BoundPort] = true
		}
	}
	return reserved, nil
}
