package store

import "time"

// PortBinding records the port a service was allocated.
// At most one row per service.
type PortBinding struct {
	ServiceName   string    `gorm:"primaryKey" json:"service_name"`
	RequestedPort int       `gorm:"not null" json:"requested_port"`
	BoundPort     int       `gorm:"not null;index" json:"bound_port"`
	Protocol      string    `gorm:"not null;default:tcp" json:"protocol"`
	CheckedAt     time.Time `json:"checked_at"`
}

// PrinterConfig is a printer that was successfully bound into the spooler.
type PrinterConfig struct {
	Name           string     `gorm:"primaryKey" json:"name"`
	ConnectionType string     `gorm:"not null;default:''" json:"connection_type"`
	DeviceURI      string     `gorm:"not null;default:''" json:"device_uri"`
	IsDefault      bool       `gorm:"not null;default:false" json:"is_default"`
	IsConfigured   bool       `gorm:"not null;default:false" json:"is_configured"`
	LastTested     *time.Time `json:"last_tested,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TunnelConfig is the persisted view of one reachability provider.
type TunnelConfig struct {
	Provider      string     `gorm:"primaryKey" json:"provider"`
	Domain        string     `gorm:"not null;default:''" json:"domain"`
	CredentialRef string     `gorm:"not null;default:''" json:"credential_ref"`
	IsConfigured  bool       `gorm:"not null;default:false" json:"is_configured"`
	IsActive      bool       `gorm:"not null;default:false" json:"is_active"`
	LastVerified  *time.Time `json:"last_verified,omitempty"`
	State         string     `gorm:"not null;default:UNCONFIGURED" json:"state"`
	PublicURL     string     `gorm:"not null;default:''" json:"public_url"`
	LastError     string     `gorm:"not null;default:''" json:"last_error"`
	RestartCount  int        `gorm:"not null;default:0" json:"restart_count"`
	SessionID     string     `gorm:"not null;default:''" json:"session_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SystemState is a scalar key/value pair.
type SystemState struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName keeps the historical singular table name.
func (SystemState) TableName() string { return "system_state" }

// Scalar keys written by labelctl components.
const (
	KeyPortMap = "ports.map"
)

// PrinterStateKey is the scalar key holding the last observed queue state of a printer.
func PrinterStateKey(name string) string { return "printer." + name + ".state" }
