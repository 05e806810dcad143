package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"labelctl/internal/errdefs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "labelctl.db"), WithQuietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScalars(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetScalar("tunnel.active")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetScalar("tunnel.active", "cloudflare_named"))
	require.NoError(t, s.SetScalar("tunnel.active", "ngrok"))

	v, ok, err := s.GetScalar("tunnel.active")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ngrok", v)
}

func TestSavePortBinding_OverwritesAndMirrorsPortMap(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SavePortBinding(PortBinding{ServiceName: "api", RequestedPort: 5000, BoundPort: 5000, Protocol: "tcp"}))
	require.NoError(t, s.SavePortBinding(PortBinding{ServiceName: "control", RequestedPort: 8090, BoundPort: 8090, Protocol: "tcp"}))
	require.NoError(t, s.SavePortBinding(PortBinding{ServiceName: "api", RequestedPort: 5000, BoundPort: 5001, Protocol: "tcp"}))

	bindings, err := s.ListPortBindings()
	require.NoError(t, err)
	require.Len(t, bindings, 2)

	api, err := s.GetPortBinding("api")
	require.NoError(t, err)
	assert.Equal(t, 5001, api.BoundPort)
	assert.False(t, api.CheckedAt.IsZero())

	raw, ok, err := s.GetScalar(KeyPortMap)
	require.NoError(t, err)
	require.True(t, ok)
	var portMap map[string]int
	require.NoError(t, json.Unmarshal([]byte(raw), &portMap))
	assert.Equal(t, map[string]int{"api": 5001, "control": 8090}, portMap)

	_, err = s.GetPortBinding("metrics")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUpsertPrinter_SingleDefault(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	created, err := s.UpsertPrinter(PrinterConfig{Name: "ZTC-ZD230", DeviceURI: "usb://Zebra/ZD230", IsDefault: true, IsConfigured: true, LastTested: &now})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertPrinter(PrinterConfig{Name: "ZTC-ZD420", DeviceURI: "usb://Zebra/ZD420", IsConfigured: true})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertPrinter(PrinterConfig{Name: "ZTC-ZD230", DeviceURI: "usb://Zebra/ZD230", IsDefault: true, IsConfigured: true, LastTested: &now})
	require.NoError(t, err)
	assert.False(t, created)

	printers, err := s.ListPrinters()
	require.NoError(t, err)
	require.Len(t, printers, 2)

	def, err := s.DefaultPrinter()
	require.NoError(t, err)
	assert.Equal(t, "ZTC-ZD230", def.Name)

	// Moving the default clears the previous holder.
	_, err = s.UpsertPrinter(PrinterConfig{Name: "ZTC-ZD420", DeviceURI: "usb://Zebra/ZD420", IsDefault: true, IsConfigured: true})
	require.NoError(t, err)

	defaults := 0
	printers, err = s.ListPrinters()
	require.NoError(t, err)
	for _, p := range printers {
		if p.IsDefault {
			defaults++
			assert.Equal(t, "ZTC-ZD420", p.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestDeletePrinter(t *testing.T) {
	s := openTestStore(t)

	_, err := s.UpsertPrinter(PrinterConfig{Name: "ZTC-ZD230", IsConfigured: true})
	require.NoError(t, err)

	require.NoError(t, s.DeletePrinter("ZTC-ZD230"))
	assert.True(t, errdefs.IsNotFound(s.DeletePrinter("ZTC-ZD230")))

	_, err = s.GetPrinter("ZTC-ZD230")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUpdateTunnel(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetTunnel("cloudflare_named")
	assert.True(t, errdefs.IsNotFound(err))

	row, err := s.UpdateTunnel("cloudflare_named", func(tc *TunnelConfig) error {
		assert.Equal(t, "UNCONFIGURED", tc.State)
		tc.Domain = "print.example.com"
		tc.IsConfigured = true
		tc.State = "CONFIGURED"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "print.example.com", row.Domain)

	boom := errors.New("boom")
	_, err = s.UpdateTunnel("cloudflare_named", func(tc *TunnelConfig) error {
		tc.Domain = "other.example.com"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetTunnel("cloudflare_named")
	require.NoError(t, err)
	assert.Equal(t, "print.example.com", got.Domain, "aborted update must not persist")
	assert.Equal(t, "CONFIGURED", got.State)

	// Clearing a flag back to its zero value must persist.
	_, err = s.UpdateTunnel("cloudflare_named", func(tc *TunnelConfig) error {
		tc.IsConfigured = false
		return nil
	})
	require.NoError(t, err)
	got, err = s.GetTunnel("cloudflare_named")
	require.NoError(t, err)
	assert.False(t, got.IsConfigured)
}

func TestUpdateTunnel_ConcurrentWritersSerialize(t *testing.T) {
	s := openTestStore(t)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateTunnel("ngrok", func(tc *TunnelConfig) error {
				tc.RestartCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetTunnel("ngrok")
	require.NoError(t, err)
	assert.Equal(t, writers, got.RestartCount)
}

func TestReopenKeepsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelctl.db")

	s, err := Open(path, WithQuietLogger())
	require.NoError(t, err)
	_, err = s.UpdateTunnel("cloudflare_named", func(tc *TunnelConfig) error {
		tc.Domain = "print.example.com"
		tc.IsConfigured = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, WithQuietLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetTunnel("cloudflare_named")
	require.NoError(t, err)
	assert.Equal(t, "print.example.com", got.Domain)
	assert.True(t, got.IsConfigured)
}

func TestEnsureSchema_AdditiveUpgradeKeepsDomain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labelctl.db")

	// An older release only knew about these columns.
	old, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, old.Exec(`CREATE TABLE tunnel_configs (
		provider TEXT PRIMARY KEY,
		domain TEXT NOT NULL DEFAULT '',
		is_configured NUMERIC NOT NULL DEFAULT 0,
		is_active NUMERIC NOT NULL DEFAULT 0
	)`).Error)
	require.NoError(t, old.Exec(`INSERT INTO tunnel_configs (provider, domain, is_configured, is_active) VALUES ('cloudflare_named', 'print.example.com', 1, 0)`).Error)
	oldDB, err := old.DB()
	require.NoError(t, err)
	require.NoError(t, oldDB.Close())

	s, err := Open(path, WithQuietLogger())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(), "second call is a no-op")

	got, err := s.GetTunnel("cloudflare_named")
	require.NoError(t, err)
	assert.Equal(t, "print.example.com", got.Domain)
	assert.True(t, got.IsConfigured)
	assert.Equal(t, "UNCONFIGURED", got.State, "new column takes its neutral default")
	assert.Equal(t, 0, got.RestartCount)
	assert.Nil(t, got.LastVerified)
}
