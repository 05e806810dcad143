// Package store persists labelctl state in SQLite.
//
// All mutations funnel through one in-process mutex so that concurrent
// writers (startup pass, tunnel loops, operator commands) never race on
// read-modify-write sequences. Reads go straight to the database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"labelctl/internal/errdefs"
	"labelctl/pkg/logging"
)

// Store is the ConfigStore.
type Store struct {
	db      *gorm.DB
	path    string
	writeMu sync.Mutex
}

// Option customises Open.
type Option func(*options)

type options struct {
	logLevel logger.LogLevel
}

// WithQuietLogger silences GORM's own logger.
func WithQuietLogger() Option {
	return func(o *options) { o.logLevel = logger.Silent }
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{logLevel: logger.Warn}
	for _, opt := range opts {
		opt(&o)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(o.logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.EnsureSchema(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	logging.Debug("Store", "Opened state database at %s", path)
	return s, nil
}

// EnsureSchema creates missing tables and columns. It never drops or
// rewrites existing data, so it is safe to call on every start.
func (s *Store) EnsureSchema() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.AutoMigrate(&PortBinding{}, &PrinterConfig{}, &TunnelConfig{}, &SystemState{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// write runs fn inside a transaction while holding the write lock.
func (s *Store) write(fn func(tx *gorm.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Transaction(fn)
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errdefs.NotFound(format, args...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// GetScalar returns the value stored under key and whether it exists.
func (s *Store) GetScalar(key string) (string, bool, error) {
	var row SystemState
	err := s.db.Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get scalar %s: %w", key, err)
	}
	return row.Value, true, nil
}

// SetScalar stores value under key, replacing any previous value.
func (s *Store) SetScalar(key, value string) error {
	return s.write(func(tx *gorm.DB) error {
		return setScalar(tx, key, value)
	})
}

func setScalar(tx *gorm.DB, key, value string) error {
	if err := tx.Where("key = ?", key).Assign(SystemState{Value: value}).FirstOrCreate(&SystemState{Key: key}).Error; err != nil {
		return fmt.Errorf("set scalar %s: %w", key, err)
	}
	return nil
}

// SavePortBinding upserts b by service name and mirrors the full port map
// into the ports.map scalar inside the same transaction.
func (s *Store) SavePortBinding(b PortBinding) error {
	if b.CheckedAt.IsZero() {
		b.CheckedAt = time.Now()
	}
	return s.write(func(tx *gorm.DB) error {
		if err := tx.Save(&b).Error; err != nil {
			return fmt.Errorf("save port binding %s: %w", b.ServiceName, err)
		}
		var all []PortBinding
		if err := tx.Order("service_name").Find(&all).Error; err != nil {
			return fmt.Errorf("list port bindings: %w", err)
		}
		portMap := make(map[string]int, len(all))
		for _, pb := range all {
			portMap[pb.ServiceName] = pb.BoundPort
		}
		data, err := json.Marshal(portMap)
		if err != nil {
			return fmt.Errorf("encode port map: %w", err)
		}
		return setScalar(tx, KeyPortMap, string(data))
	})
}

// GetPortBinding returns the binding for service.
func (s *Store) GetPortBinding(service string) (*PortBinding, error) {
	var b PortBinding
	if err := s.db.Where("service_name = ?", service).First(&b).Error; err != nil {
		return nil, notFound(err, "port binding %s", service)
	}
	return &b, nil
}

// ListPortBindings returns all bindings ordered by service name.
func (s *Store) ListPortBindings() ([]PortBinding, error) {
	var out []PortBinding
	if err := s.db.Order("service_name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list port bindings: %w", err)
	}
	return out, nil
}

// UpsertPrinter creates or updates p. When p.IsDefault is set every other
// row loses its default flag in the same transaction. It reports whether a
// new row was created.
func (s *Store) UpsertPrinter(p PrinterConfig) (bool, error) {
	created := false
	err := s.write(func(tx *gorm.DB) error {
		var existing PrinterConfig
		err := tx.Where("name = ?", p.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("create printer %s: %w", p.Name, err)
			}
		case err != nil:
			return fmt.Errorf("load printer %s: %w", p.Name, err)
		default:
			updates := map[string]interface{}{
				"connection_type": p.ConnectionType,
				"device_uri":      p.DeviceURI,
				"is_default":      p.IsDefault,
				"is_configured":   p.IsConfigured,
				"last_tested":     p.LastTested,
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("update printer %s: %w", p.Name, err)
			}
		}
		if p.IsDefault {
			if err := tx.Model(&PrinterConfig{}).Where("name <> ?", p.Name).Update("is_default", false).Error; err != nil {
				return fmt.Errorf("clear default printer: %w", err)
			}
		}
		return nil
	})
	return created, err
}

// GetPrinter returns the printer called name.
func (s *Store) GetPrinter(name string) (*PrinterConfig, error) {
	var p PrinterConfig
	if err := s.db.Where("name = ?", name).First(&p).Error; err != nil {
		return nil, notFound(err, "printer %s", name)
	}
	return &p, nil
}

// ListPrinters returns all printers, oldest first.
func (s *Store) ListPrinters() ([]PrinterConfig, error) {
	var out []PrinterConfig
	if err := s.db.Order("created_at, name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list printers: %w", err)
	}
	return out, nil
}

// DefaultPrinter returns the printer flagged as default.
func (s *Store) DefaultPrinter() (*PrinterConfig, error) {
	var p PrinterConfig
	if err := s.db.Where("is_default = ?", true).First(&p).Error; err != nil {
		return nil, notFound(err, "default printer")
	}
	return &p, nil
}

// DeletePrinter removes a printer row.
func (s *Store) DeletePrinter(name string) error {
	return s.write(func(tx *gorm.DB) error {
		res := tx.Where("name = ?", name).Delete(&PrinterConfig{})
		if res.Error != nil {
			return fmt.Errorf("delete printer %s: %w", name, res.Error)
		}
		if res.RowsAffected == 0 {
			return errdefs.NotFound("printer %s", name)
		}
		return nil
	})
}

// GetTunnel returns the tunnel row for provider.
func (s *Store) GetTunnel(provider string) (*TunnelConfig, error) {
	var t TunnelConfig
	if err := s.db.Where("provider = ?", provider).First(&t).Error; err != nil {
		return nil, notFound(err, "tunnel %s", provider)
	}
	return &t, nil
}

// ListTunnels returns all tunnel rows ordered by provider.
func (s *Store) ListTunnels() ([]TunnelConfig, error) {
	var out []TunnelConfig
	if err := s.db.Order("provider").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list tunnels: %w", err)
	}
	return out, nil
}

// UpdateTunnel loads the row for provider (a fresh UNCONFIGURED row when
// missing), applies fn and saves the result atomically. Returning an error
// from fn aborts without writing.
func (s *Store) UpdateTunnel(provider string, fn func(t *TunnelConfig) error) (*TunnelConfig, error) {
	var out TunnelConfig
	err := s.write(func(tx *gorm.DB) error {
		var t TunnelConfig
		err := tx.Where("provider = ?", provider).First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			t = TunnelConfig{Provider: provider, State: "UNCONFIGURED"}
		} else if err != nil {
			return fmt.Errorf("load tunnel %s: %w", provider, err)
		}
		if err := fn(&t); err != nil {
			return err
		}
		t.Provider = provider
		if err := tx.Save(&t).Error; err != nil {
			return fmt.Errorf("save tunnel %s: %w", provider, err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
