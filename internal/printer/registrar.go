// Package printer discovers attached label printers and binds them into
// the spooler. Registration is idempotent: running it on every start, or
// on every rescan, never duplicates queues or configuration rows.
package printer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"labelctl/internal/errdefs"
	"labelctl/internal/spooler"
	"labelctl/internal/store"
	"labelctl/pkg/logging"
)

// DeviceDescriptor is a discovered device. It is not persisted.
type DeviceDescriptor struct {
	TransportURI string `json:"transport_uri"`
	RawLabel     string `json:"raw_label"`
}

// Result tells the caller what Register did.
type Result string

const (
	Created        Result = "created"
	AlreadyPresent Result = "already_present"
)

// DeviceGoneError means the device disappeared between discovery and registration.
type DeviceGoneError struct {
	URI string
}

func (e *DeviceGoneError) Error() string {
	return fmt.Sprintf("device %s is no longer attached", e.URI)
}

// Is classifies the error as transient.
func (e *DeviceGoneError) Is(target error) bool {
	return target == errdefs.ErrTransient
}

// PrinterStore is the slice of the ConfigStore the registrar needs.
type PrinterStore interface {
	UpsertPrinter(p store.PrinterConfig) (bool, error)
	GetPrinter(name string) (*store.PrinterConfig, error)
	ListPrinters() ([]store.PrinterConfig, error)
	DeletePrinter(name string) error
	SetScalar(key, value string) error
}

// Registrar is the DeviceRegistrar.
type Registrar struct {
	spooler      spooler.Spooler
	store        PrinterStore
	vendorTokens []string
	driver       string
	now          func() time.Time
}

// NewRegistrar creates a Registrar matching devices against vendorTokens.
func NewRegistrar(sp spooler.Spooler, s PrinterStore, vendorTokens []string, driver string) *Registrar {
	tokens := make([]string, 0, len(vendorTokens))
	for _, t := range vendorTokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return &Registrar{spooler: sp, store: s, vendorTokens: tokens, driver: driver, now: time.Now}
}

// Discover performs a fresh scan and returns devices matching a vendor token.
func (r *Registrar) Discover(ctx context.Context) ([]DeviceDescriptor, error) {
	devices, err := r.spooler.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}
	var out []DeviceDescriptor
	for _, d := range devices {
		if !r.matchesVendor(d.URI) {
			continue
		}
		out = append(out, DeviceDescriptor{TransportURI: d.URI, RawLabel: rawLabel(d.URI)})
	}
	logging.Debug("Printer", "Discovered %d matching device(s) out of %d", len(out), len(devices))
	return out, nil
}

func (r *Registrar) matchesVendor(uri string) bool {
	decoded, err := url.PathUnescape(uri)
	if err != nil {
		decoded = uri
	}
	decoded = strings.ToLower(decoded)
	for _, token := range r.vendorTokens {
		if strings.Contains(decoded, token) {
			return true
		}
	}
	return false
}

// rawLabel is the last path element of the URI, still encoded and with its query.
func rawLabel(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	} else if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[i+1:]
	}
	query := ""
	if i := strings.Index(rest, "?"); i >= 0 {
		rest, query = rest[:i], rest[i:]
	}
	rest = strings.TrimRight(rest, "/")
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		rest = rest[i+1:]
	}
	return rest + query
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	// CUPS queue names may not contain these.
	forbiddenChars = regexp.MustCompile(`[/#'",\\]`)
	separatorRun   = regexp.MustCompile(`-{2,}`)
)

// Sanitize turns a raw device label into a spooler queue name:
// percent-decode, drop any query suffix, collapse whitespace into '-'.
func Sanitize(raw string) string {
	name, err := url.PathUnescape(raw)
	if err != nil {
		name = raw
	}
	if i := strings.Index(name, "?"); i >= 0 {
		name = name[:i]
	}
	name = whitespaceRun.ReplaceAllString(strings.TrimSpace(name), "-")
	name = forbiddenChars.ReplaceAllString(name, "-")
	name = separatorRun.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) > 127 {
		name = name[:127]
	}
	return name
}

// ConnectionType derives a display transport from a device URI.
func ConnectionType(uri string) string {
	scheme := uri
	if i := strings.Index(uri, ":"); i >= 0 {
		scheme = uri[:i]
	}
	switch strings.ToLower(scheme) {
	case "usb":
		return "USB"
	case "socket", "ipp", "ipps", "lpd", "dnssd", "http", "https":
		return "Network"
	case "serial":
		return "Serial"
	default:
		return "Other"
	}
}

// Register binds d into the spooler. An existing queue of the same name is
// left untouched. The persisted PrinterConfig is only written once the
// spooler side is known to be in place.
func (r *Registrar) Register(ctx context.Context, d DeviceDescriptor) (Result, error) {
	name := Sanitize(d.RawLabel)
	if name == "" {
		return "", errdefs.Validation("device %q yields an empty queue name", d.TransportURI)
	}

	_, err := r.spooler.QueryQueueState(ctx, name)
	switch {
	case err == nil:
		if err := r.recordAlreadyPresent(ctx, name, d); err != nil {
			return "", err
		}
		logging.Debug("Printer", "Queue %s already present", name)
		return AlreadyPresent, nil
	case !errdefs.IsNotFound(err):
		return "", fmt.Errorf("query queue %s: %w", name, err)
	}

	if err := r.ensureStillAttached(ctx, d); err != nil {
		return "", err
	}

	existing, err := r.spooler.ListQueues(ctx)
	if err != nil {
		return "", fmt.Errorf("list queues: %w", err)
	}

	if err := r.spooler.CreateQueue(ctx, name, d.TransportURI, r.driver); err != nil {
		if errdefs.IsTransient(err) {
			return "", fmt.Errorf("%w: %v", &DeviceGoneError{URI: d.TransportURI}, err)
		}
		return "", err
	}
	if err := r.spooler.EnableQueue(ctx, name); err != nil {
		return "", err
	}

	isDefault := len(existing) == 0
	if isDefault {
		if err := r.spooler.SetDefault(ctx, name); err != nil {
			return "", err
		}
	}

	now := r.now()
	if _, err := r.store.UpsertPrinter(store.PrinterConfig{
		Name:           name,
		ConnectionType: ConnectionType(d.TransportURI),
		DeviceURI:      d.TransportURI,
		IsDefault:      isDefault,
		IsConfigured:   true,
		LastTested:     &now,
	}); err != nil {
		return "", fmt.Errorf("persist printer %s: %w", name, err)
	}
	logging.Info("Printer", "Registered %s (%s), default=%t", name, d.TransportURI, isDefault)
	return Created, nil
}

func (r *Registrar) ensureStillAttached(ctx context.Context, d DeviceDescriptor) error {
	devices, err := r.spooler.EnumerateDevices(ctx)
	if err != nil {
		return err
	}
	for _, dev := range devices {
		if dev.URI == d.TransportURI {
			return nil
		}
	}
	return &DeviceGoneError{URI: d.TransportURI}
}

// recordAlreadyPresent refreshes last_tested while preserving the default flag.
func (r *Registrar) recordAlreadyPresent(ctx context.Context, name string, d DeviceDescriptor) error {
	now := r.now()
	row := store.PrinterConfig{
		Name:           name,
		ConnectionType: ConnectionType(d.TransportURI),
		DeviceURI:      d.TransportURI,
		IsConfigured:   true,
		LastTested:     &now,
	}

	existing, err := r.store.GetPrinter(name)
	switch {
	case err == nil:
		row.IsDefault = existing.IsDefault
	case errdefs.IsNotFound(err):
		// Queue created outside labelctl. Adopt it, claiming default only
		// when no other printer holds it.
		row.IsDefault, err = r.noDefaultYet()
		if err != nil {
			return err
		}
	default:
		return err
	}

	if _, err := r.store.UpsertPrinter(row); err != nil {
		return fmt.Errorf("persist printer %s: %w", name, err)
	}
	return nil
}

func (r *Registrar) noDefaultYet() (bool, error) {
	printers, err := r.store.ListPrinters()
	if err != nil {
		return false, err
	}
	for _, p := range printers {
		if p.IsDefault {
			return false, nil
		}
	}
	return true, nil
}

// Summary is the outcome of a discover-and-register pass.
type Summary struct {
	Discovered int
	Created    []string
	Present    []string
	Errors     []error
}

// Sync discovers devices and registers each one. Per-device failures are
// collected in the summary rather than aborting the pass.
func (r *Registrar) Sync(ctx context.Context) (Summary, error) {
	devices, err := r.Discover(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Discovered: len(devices)}
	for _, d := range devices {
		res, err := r.Register(ctx, d)
		if err != nil {
			var gone *DeviceGoneError
			if errors.As(err, &gone) {
				logging.Warn("Printer", "Device %s vanished before registration", gone.URI)
			} else {
				logging.Error("Printer", err, "Failed to register %s", d.TransportURI)
			}
			sum.Errors = append(sum.Errors, err)
			continue
		}
		name := Sanitize(d.RawLabel)
		if res == Created {
			sum.Created = append(sum.Created, name)
		} else {
			sum.Present = append(sum.Present, name)
		}
	}
	return sum, nil
}

// Refresh records the current spooler state of every known printer.
func (r *Registrar) Refresh(ctx context.Context) error {
	printers, err := r.store.ListPrinters()
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range printers {
		state := spooler.StateUnknown
		qs, err := r.spooler.QueryQueueState(ctx, p.Name)
		switch {
		case err == nil:
			state = qs.State
		case errdefs.IsNotFound(err):
			state = "missing"
		default:
			errs = append(errs, err)
		}
		if err := r.store.SetScalar(store.PrinterStateKey(p.Name), state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove deletes the configuration row for name. The spooler queue is kept.
func (r *Registrar) Remove(_ context.Context, name string) error {
	if err := r.store.DeletePrinter(name); err != nil {
		return err
	}
	logging.Info("Printer", "Removed printer %s from configuration", name)
	return nil
}

// List returns the registered printers.
func (r *Registrar) List() ([]store.PrinterConfig, error) {
	return r.store.ListPrinters()
}
