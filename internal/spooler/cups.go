// Package spooler drives the local CUPS print spooler through its
// command line tools.
package spooler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"labelctl/internal/errdefs"
	"labelctl/pkg/logging"
)

// Device is one entry reported by the spooler's device enumeration.
type Device struct {
	Class string // direct, network, serial, file
	URI   string
}

// Queue states as reported by lpstat.
const (
	StateIdle     = "idle"
	StatePrinting = "printing"
	StateDisabled = "disabled"
	StateUnknown  = "unknown"
)

// QueueState describes a spooler queue at query time.
type QueueState struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Accepting  bool   `json:"accepting"`
	DeviceURI  string `json:"device_uri"`
	IsDefault  bool   `json:"is_default"`
	QueuedJobs int    `json:"queued_jobs"`
}

// Spooler is the capability set labelctl consumes from the print subsystem.
type Spooler interface {
	Ready(ctx context.Context) error
	EnumerateDevices(ctx context.Context) ([]Device, error)
	CreateQueue(ctx context.Context, name, uri, driver string) error
	EnableQueue(ctx context.Context, name string) error
	SetDefault(ctx context.Context, name string) error
	QueryQueueState(ctx context.Context, name string) (QueueState, error)
	ListQueues(ctx context.Context) ([]string, error)
}

// CUPS implements Spooler with lpstat, lpinfo, lpadmin, cupsenable and cupsaccept.
type CUPS struct {
	runner  Runner
	timeout time.Duration
}

// NewCUPS returns a CUPS client. Every command is bounded by timeout.
func NewCUPS(runner Runner, timeout time.Duration) *CUPS {
	if runner == nil {
		runner = ExecRunner{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CUPS{runner: runner, timeout: timeout}
}

func (c *CUPS) run(ctx context.Context, name string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stdout, stderr, err := c.runner.Run(ctx, name, args...)
	if err == nil {
		return stdout, stderr, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return stdout, stderr, errdefs.Permanent(err, "install the CUPS client tools (cups-client)", "%s is not available", name)
	}
	if ctx.Err() != nil {
		return stdout, stderr, errdefs.Transient(ctx.Err(), "%s timed out", name)
	}
	return stdout, stderr, err
}

// Ready checks that the scheduler is running.
func (c *CUPS) Ready(ctx context.Context) error {
	stdout, stderr, err := c.run(ctx, "lpstat", "-r")
	if err != nil {
		if errdefs.IsPermanent(err) {
			return err
		}
		return errdefs.Transient(err, "spooler not reachable: %s", stderr)
	}
	if strings.Contains(stdout, "not running") || !strings.Contains(stdout, "scheduler is running") {
		return errdefs.Transient(nil, "spooler not ready: %q", stdout)
	}
	return nil
}

// EnumerateDevices lists device URIs known to the spooler backends.
func (c *CUPS) EnumerateDevices(ctx context.Context) ([]Device, error) {
	stdout, stderr, err := c.run(ctx, "lpinfo", "-v")
	if err != nil {
		return nil, errdefs.Transient(err, "enumerate devices: %s", stderr)
	}
	return parseDevices(stdout), nil
}

func parseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// Bare backend names ("network socket") carry no address.
		if !strings.Contains(fields[1], ":") {
			continue
		}
		devices = append(devices, Device{Class: fields[0], URI: fields[1]})
	}
	return devices
}

// CreateQueue adds a queue called name printing to uri.
func (c *CUPS) CreateQueue(ctx context.Context, name, uri, driver string) error {
	if driver == "" {
		driver = "raw"
	}
	_, stderr, err := c.run(ctx, "lpadmin", "-p", name, "-v", uri, "-m", driver, "-o", "printer-is-shared=false")
	if err != nil {
		if strings.Contains(strings.ToLower(stderr), "bad device-uri") || strings.Contains(strings.ToLower(stderr), "not found") {
			return errdefs.Transient(err, "device %s unavailable: %s", uri, stderr)
		}
		return fmt.Errorf("create queue %s: %w (%s)", name, err, stderr)
	}
	logging.Info("Spooler", "Created queue %s for %s", name, uri)
	return nil
}

// EnableQueue starts the queue and makes it accept jobs.
func (c *CUPS) EnableQueue(ctx context.Context, name string) error {
	if _, stderr, err := c.run(ctx, "cupsenable", name); err != nil {
		return fmt.Errorf("enable queue %s: %w (%s)", name, err, stderr)
	}
	if _, stderr, err := c.run(ctx, "cupsaccept", name); err != nil {
		return fmt.Errorf("accept jobs on %s: %w (%s)", name, err, stderr)
	}
	return nil
}

// SetDefault makes name the spooler's default destination.
func (c *CUPS) SetDefault(ctx context.Context, name string) error {
	if _, stderr, err := c.run(ctx, "lpadmin", "-d", name); err != nil {
		return fmt.Errorf("set default queue %s: %w (%s)", name, err, stderr)
	}
	logging.Info("Spooler", "Queue %s is now the default destination", name)
	return nil
}

// QueryQueueState returns the state of name or an errdefs.ErrNotFound error.
func (c *CUPS) QueryQueueState(ctx context.Context, name string) (QueueState, error) {
	stdout, stderr, err := c.run(ctx, "lpstat", "-p", name)
	if err != nil {
		if isUnknownDestination(stdout + stderr) {
			return QueueState{}, errdefs.NotFound("queue %s", name)
		}
		return QueueState{}, errdefs.Transient(err, "query queue %s: %s", name, stderr)
	}
	state := QueueState{Name: name, State: parseQueueState(stdout)}

	if out, _, err := c.run(ctx, "lpstat", "-a", name); err == nil {
		state.Accepting = strings.Contains(out, "accepting requests") && !strings.Contains(out, "not accepting")
	}
	if out, _, err := c.run(ctx, "lpstat", "-v", name); err == nil {
		state.DeviceURI = parseDeviceURI(out, name)
	}
	if out, _, err := c.run(ctx, "lpstat", "-d"); err == nil {
		state.IsDefault = parseDefault(out) == name
	}
	if out, _, err := c.run(ctx, "lpstat", "-o", name); err == nil {
		state.QueuedJobs = countLines(out)
	}
	return state, nil
}

// ListQueues returns the names of all configured queues.
func (c *CUPS) ListQueues(ctx context.Context) ([]string, error) {
	stdout, stderr, err := c.run(ctx, "lpstat", "-p")
	if err != nil {
		if strings.Contains(stdout+stderr, "No destinations added") {
			return nil, nil
		}
		return nil, errdefs.Transient(err, "list queues: %s", stderr)
	}
	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "printer" {
			names = append(names, fields[1])
		}
	}
	return names, nil
}

func isUnknownDestination(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "invalid destination") || strings.Contains(lower, "unknown destination") || strings.Contains(lower, "does not exist")
}

func parseQueueState(out string) string {
	switch {
	case strings.Contains(out, "disabled"):
		return StateDisabled
	case strings.Contains(out, "now printing"):
		return StatePrinting
	case strings.Contains(out, "is idle"):
		return StateIdle
	default:
		return StateUnknown
	}
}

// parseDeviceURI reads "device for NAME: URI".
func parseDeviceURI(out, name string) string {
	prefix := "device for " + name + ":"
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), prefix))
		}
	}
	return ""
}

// parseDefault reads "system default destination: NAME".
func parseDefault(out string) string {
	const prefix = "system default destination:"
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func countLines(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
