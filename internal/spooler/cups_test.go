package spooler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelctl/internal/errdefs"
)

type response struct {
	stdout, stderr string
	err            error
}

// fakeRunner answers commands from a table keyed by the full command line.
type fakeRunner struct {
	responses map[string]response
	calls     []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.calls = append(f.calls, line)
	r, ok := f.responses[line]
	if !ok {
		return "", "", fmt.Errorf("unexpected command %q", line)
	}
	return r.stdout, r.stderr, r.err
}

func TestReady(t *testing.T) {
	tests := []struct {
		name      string
		resp      response
		wantErr   bool
		transient bool
		permanent bool
	}{
		{name: "running", resp: response{stdout: "scheduler is running"}},
		{name: "not running", resp: response{stdout: "scheduler is not running"}, wantErr: true, transient: true},
		{name: "unreachable", resp: response{stderr: "lpstat: Bad file descriptor", err: errors.New("exit status 1")}, wantErr: true, transient: true},
		{name: "missing tools", resp: response{err: &exec.Error{Name: "lpstat", Err: exec.ErrNotFound}}, wantErr: true, permanent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCUPS(&fakeRunner{responses: map[string]response{"lpstat -r": tt.resp}}, time.Second)
			err := c.Ready(context.Background())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.transient, errdefs.IsTransient(err))
			assert.Equal(t, tt.permanent, errdefs.IsPermanent(err))
		})
	}
}

func TestEnumerateDevices(t *testing.T) {
	out := `network socket
direct usb://Zebra%20Technologies/ZTC%20ZD230-203dpi%20ZPL?serial=D4J222602258
network ipp
direct hp
serial serial:/dev/ttyS0?baud=115200
network dnssd://Zebra%20ZD420._ipp._tcp.local/`
	c := NewCUPS(&fakeRunner{responses: map[string]response{"lpinfo -v": {stdout: out}}}, time.Second)

	devices, err := c.EnumerateDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, Device{Class: "direct", URI: "usb://Zebra%20Technologies/ZTC%20ZD230-203dpi%20ZPL?serial=D4J222602258"}, devices[0])
	assert.Equal(t, "serial", devices[1].Class)
	assert.Equal(t, "network", devices[2].Class)
}

func TestCreateAndEnableQueue(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"lpadmin -p ZTC-ZD230 -v usb://Zebra/ZD230 -m raw -o printer-is-shared=false": {},
		"cupsenable ZTC-ZD230": {},
		"cupsaccept ZTC-ZD230": {},
		"lpadmin -d ZTC-ZD230": {},
	}}
	c := NewCUPS(r, time.Second)
	ctx := context.Background()

	require.NoError(t, c.CreateQueue(ctx, "ZTC-ZD230", "usb://Zebra/ZD230", ""))
	require.NoError(t, c.EnableQueue(ctx, "ZTC-ZD230"))
	require.NoError(t, c.SetDefault(ctx, "ZTC-ZD230"))
	assert.Equal(t, []string{
		"lpadmin -p ZTC-ZD230 -v usb://Zebra/ZD230 -m raw -o printer-is-shared=false",
		"cupsenable ZTC-ZD230",
		"cupsaccept ZTC-ZD230",
		"lpadmin -d ZTC-ZD230",
	}, r.calls)
}

func TestCreateQueue_DeviceGone(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"lpadmin -p ZTC-ZD230 -v usb://Zebra/ZD230 -m raw -o printer-is-shared=false": {
			stderr: `lpadmin: Bad device-uri "usb://Zebra/ZD230".`, err: errors.New("exit status 1"),
		},
	}}
	err := NewCUPS(r, time.Second).CreateQueue(context.Background(), "ZTC-ZD230", "usb://Zebra/ZD230", "raw")
	assert.True(t, errdefs.IsTransient(err))
}

func TestQueryQueueState(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"lpstat -p ZTC-ZD230": {stdout: "printer ZTC-ZD230 is idle.  enabled since Mon 01 Jan 2024 10:00:00 AM UTC"},
		"lpstat -a ZTC-ZD230": {stdout: "ZTC-ZD230 accepting requests since Mon 01 Jan 2024 10:00:00 AM UTC"},
		"lpstat -v ZTC-ZD230": {stdout: "device for ZTC-ZD230: usb://Zebra%20Technologies/ZTC%20ZD230-203dpi%20ZPL"},
		"lpstat -d":           {stdout: "system default destination: ZTC-ZD230"},
		"lpstat -o ZTC-ZD230": {stdout: "ZTC-ZD230-12 root 1024 Mon 01 Jan 2024\nZTC-ZD230-13 root 1024 Mon 01 Jan 2024"},
	}}

	state, err := NewCUPS(r, time.Second).QueryQueueState(context.Background(), "ZTC-ZD230")
	require.NoError(t, err)
	assert.Equal(t, QueueState{
		Name:       "ZTC-ZD230",
		State:      StateIdle,
		Accepting:  true,
		DeviceURI:  "usb://Zebra%20Technologies/ZTC%20ZD230-203dpi%20ZPL",
		IsDefault:  true,
		QueuedJobs: 2,
	}, state)
}

func TestQueryQueueState_Missing(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"lpstat -p ghost": {stderr: `lpstat: Invalid destination name in list "ghost".`, err: errors.New("exit status 1")},
	}}
	_, err := NewCUPS(r, time.Second).QueryQueueState(context.Background(), "ghost")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestListQueues(t *testing.T) {
	r := &fakeRunner{responses: map[string]response{
		"lpstat -p": {stdout: "printer ZTC-ZD230 is idle.  enabled since today\nprinter Office disabled since yesterday -\n\treason unknown"},
	}}
	names, err := NewCUPS(r, time.Second).ListQueues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ZTC-ZD230", "Office"}, names)

	empty := &fakeRunner{responses: map[string]response{
		"lpstat -p": {stderr: "lpstat: No destinations added.", err: errors.New("exit status 1")},
	}}
	names, err = NewCUPS(empty, time.Second).ListQueues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestParseQueueState(t *testing.T) {
	assert.Equal(t, StateIdle, parseQueueState("printer A is idle.  enabled since x"))
	assert.Equal(t, StatePrinting, parseQueueState("printer A now printing A-3.  enabled since x"))
	assert.Equal(t, StateDisabled, parseQueueState("printer A disabled since x -"))
	assert.Equal(t, StateUnknown, parseQueueState(""))
}
