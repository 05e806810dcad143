package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestInitForCLI_WritesSubsystemAndError(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	Info("Ports", "bound %s to %d", "api", 5001)
	Error("Tunnel", errors.New("boom"), "start failed")

	out := buf.String()
	assert.Contains(t, out, "bound api to 5001")
	assert.Contains(t, out, "subsystem=Ports")
	assert.Contains(t, out, "subsystem=Tunnel")
	assert.Contains(t, out, "error=boom")
}

func TestInitForCLI_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelWarn, &buf)

	Debug("Store", "hidden")
	Info("Store", "hidden too")
	Warn("Store", "visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestInitForTUI_DeliversEntries(t *testing.T) {
	ch := InitForTUI(LevelInfo)
	defer CloseTUIChannel()

	Debug("Printer", "dropped")
	Warn("Printer", "queue %s disabled", "zebra")

	select {
	case entry := <-ch:
		assert.Equal(t, LevelWarn, entry.Level)
		assert.Equal(t, "Printer", entry.Subsystem)
		assert.Equal(t, "queue zebra disabled", entry.Message)
	default:
		require.Fail(t, "expected a log entry on the channel")
	}
}
