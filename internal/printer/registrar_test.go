package printer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelctl/internal/errdefs"
	"labelctl/internal/spooler"
	"labelctl/internal/store"
)

// fakeSpooler keeps queues in memory and can drop devices on demand.
type fakeSpooler struct {
	mu          sync.Mutex
	devices     []spooler.Device
	queues      map[string]spooler.QueueState
	order       []string
	defaultName string
	createCalls int
	// vanishAfterScans removes all devices after that many enumerations (0 = never).
	vanishAfterScans int
	scans            int
}

func newFakeSpooler(uris ...string) *fakeSpooler {
	f := &fakeSpooler{queues: map[string]spooler.QueueState{}}
	for _, u := range uris {
		f.devices = append(f.devices, spooler.Device{Class: "direct", URI: u})
	}
	return f
}

func (f *fakeSpooler) Ready(context.Context) error { return nil }

func (f *fakeSpooler) EnumerateDevices(context.Context) ([]spooler.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	if f.vanishAfterScans > 0 && f.scans > f.vanishAfterScans {
		return nil, nil
	}
	return append([]spooler.Device(nil), f.devices...), nil
}

func (f *fakeSpooler) CreateQueue(_ context.Context, name, uri, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.queues[name] = spooler.QueueState{Name: name, State: spooler.StateDisabled, DeviceURI: uri}
	f.order = append(f.order, name)
	return nil
}

func (f *fakeSpooler) EnableQueue(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[name]
	q.State, q.Accepting = spooler.StateIdle, true
	f.queues[name] = q
	return nil
}

func (f *fakeSpooler) SetDefault(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultName = name
	return nil
}

func (f *fakeSpooler) QueryQueueState(_ context.Context, name string) (spooler.QueueState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[name]
	if !ok {
		return spooler.QueueState{}, errdefs.NotFound("queue %s", name)
	}
	q.IsDefault = f.defaultName == name
	return q, nil
}

func (f *fakeSpooler) ListQueues(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...), nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "labelctl.db"), store.WithQuietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

const zd230 = "usb://Zebra%20Technologies/ZTC%20ZD230-203dpi%20ZPL?serial=D4J222602258"

func TestSanitize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"ZTC%20ZD230-203dpi%20ZPL", "ZTC-ZD230-203dpi-ZPL"},
		{"ZTC%20ZD230-203dpi%20ZPL?serial=D4J222602258", "ZTC-ZD230-203dpi-ZPL"},
		{"Zebra  ZD420\tlabel", "Zebra-ZD420-label"},
		{"  spaced  ", "spaced"},
		{"a%2Fb", "a-b"},
		{"100%", "100%"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

func TestSanitize_Deterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.Equal(t, "ZTC-ZD230-203dpi-ZPL", Sanitize("ZTC%20ZD230-203dpi%20ZPL?serial=X"))
	}
}

func TestConnectionType(t *testing.T) {
	assert.Equal(t, "USB", ConnectionType("usb://Zebra/ZD230"))
	assert.Equal(t, "Network", ConnectionType("socket://10.0.0.5:9100"))
	assert.Equal(t, "Serial", ConnectionType("serial:/dev/ttyS0"))
	assert.Equal(t, "Other", ConnectionType("file:/dev/null"))
}

func TestDiscover_FiltersByVendor(t *testing.T) {
	sp := newFakeSpooler(zd230, "usb://HP/LaserJet%20400", "socket://10.0.0.9:9100", "usb://ZEBRA/ZD420")
	r := NewRegistrar(sp, newTestStore(t), []string{"Zebra"}, "raw")

	got, err := r.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, DeviceDescriptor{TransportURI: zd230, RawLabel: "ZTC%20ZD230-203dpi%20ZPL?serial=D4J222602258"}, got[0])
	assert.Equal(t, "ZD420", got[1].RawLabel)

	none, err := NewRegistrar(newFakeSpooler(), newTestStore(t), []string{"zebra"}, "raw").Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRegister_Idempotent(t *testing.T) {
	sp := newFakeSpooler(zd230)
	s := newTestStore(t)
	r := NewRegistrar(sp, s, []string{"zebra"}, "raw")
	ctx := context.Background()

	devices, err := r.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	res, err := r.Register(ctx, devices[0])
	require.NoError(t, err)
	assert.Equal(t, Created, res)

	res, err = r.Register(ctx, devices[0])
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, res)

	assert.Equal(t, 1, sp.createCalls)
	assert.Len(t, sp.queues, 1)
	q := sp.queues["ZTC-ZD230-203dpi-ZPL"]
	assert.True(t, q.Accepting)
	assert.Equal(t, spooler.StateIdle, q.State)

	printers, err := s.ListPrinters()
	require.NoError(t, err)
	require.Len(t, printers, 1)
	assert.Equal(t, "ZTC-ZD230-203dpi-ZPL", printers[0].Name)
	assert.Equal(t, "USB", printers[0].ConnectionType)
	assert.True(t, printers[0].IsDefault)
	assert.True(t, printers[0].IsConfigured)
	assert.NotNil(t, printers[0].LastTested)
}

func TestRegister_FirstRegisteredStaysDefault(t *testing.T) {
	sp := newFakeSpooler(zd230, "usb://Zebra/ZD420", "usb://Zebra/ZD621")
	s := newTestStore(t)
	r := NewRegistrar(sp, s, []string{"zebra"}, "raw")

	sum, err := r.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Discovered)
	assert.Len(t, sum.Created, 3)

	// Second pass changes nothing.
	sum, err = r.Sync(context.Background())
	require.NoError(t, err)
	assert.Len(t, sum.Present, 3)

	printers, err := s.ListPrinters()
	require.NoError(t, err)
	require.Len(t, printers, 3)
	defaults := 0
	for _, p := range printers {
		if p.IsDefault {
			defaults++
			assert.Equal(t, "ZTC-ZD230-203dpi-ZPL", p.Name)
		}
	}
	assert.Equal(t, 1, defaults)
	assert.Equal(t, "ZTC-ZD230-203dpi-ZPL", sp.defaultName)
}

func TestRegister_DeviceGone(t *testing.T) {
	sp := newFakeSpooler(zd230)
	sp.vanishAfterScans = 1
	s := newTestStore(t)
	r := NewRegistrar(sp, s, []string{"zebra"}, "raw")

	devices, err := r.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	_, err = r.Register(context.Background(), devices[0])
	var gone *DeviceGoneError
	require.True(t, errors.As(err, &gone))
	assert.True(t, errdefs.IsTransient(err))
	assert.Equal(t, 0, sp.createCalls)

	printers, err := s.ListPrinters()
	require.NoError(t, err)
	assert.Empty(t, printers, "no configuration row without a queue")
}

func TestRegister_EmptyName(t *testing.T) {
	r := NewRegistrar(newFakeSpooler(), newTestStore(t), nil, "raw")
	_, err := r.Register(context.Background(), DeviceDescriptor{TransportURI: "usb://", RawLabel: "%20"})
	assert.True(t, errdefs.IsValidation(err))
}

func TestRegister_AdoptsExternalQueue(t *testing.T) {
	sp := newFakeSpooler(zd230)
	sp.queues["ZTC-ZD230-203dpi-ZPL"] = spooler.QueueState{Name: "ZTC-ZD230-203dpi-ZPL", State: spooler.StateIdle}
	sp.order = []string{"ZTC-ZD230-203dpi-ZPL"}
	s := newTestStore(t)
	r := NewRegistrar(sp, s, []string{"zebra"}, "raw")

	res, err := r.Register(context.Background(), DeviceDescriptor{TransportURI: zd230, RawLabel: rawLabel(zd230)})
	require.NoError(t, err)
	assert.Equal(t, AlreadyPresent, res)
	assert.Equal(t, 0, sp.createCalls)

	p, err := s.GetPrinter("ZTC-ZD230-203dpi-ZPL")
	require.NoError(t, err)
	assert.True(t, p.IsDefault)
}

func TestRefreshAndRemove(t *testing.T) {
	sp := newFakeSpooler(zd230)
	s := newTestStore(t)
	r := NewRegistrar(sp, s, []string{"zebra"}, "raw")
	ctx := context.Background()

	_, err := r.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Refresh(ctx))

	state, ok, err := s.GetScalar(store.PrinterStateKey("ZTC-ZD230-203dpi-ZPL"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, spooler.StateIdle, state)

	delete(sp.queues, "ZTC-ZD230-203dpi-ZPL")
	require.NoError(t, r.Refresh(ctx))
	state, _, _ = s.GetScalar(store.PrinterStateKey("ZTC-ZD230-203dpi-ZPL"))
	assert.Equal(t, "missing", state)

	require.NoError(t, r.Remove(ctx, "ZTC-ZD230-203dpi-ZPL"))
	assert.True(t, errdefs.IsNotFound(r.Remove(ctx, "ZTC-ZD230-203dpi-ZPL")))
	printers, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, printers)
}

func TestRawLabel(t *testing.T) {
	assert.Equal(t, "ZTC%20ZD230-203dpi%20ZPL?serial=1", rawLabel("usb://Zebra%20Technologies/ZTC%20ZD230-203dpi%20ZPL?serial=1"))
	assert.Equal(t, "10.0.0.5:9100", rawLabel("socket://10.0.0.5:9100"))
	assert.Equal(t, "Zebra%20ZD420._ipp._tcp.local", rawLabel("dnssd://Zebra%20ZD420._ipp._tcp.local/"))
	assert.Equal(t, "ttyS0?baud=9600", rawLabel("serial:/dev/ttyS0?baud=9600"))
}
