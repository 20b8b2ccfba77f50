package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gridtrust/device-trust-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	TouchDeviceLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error
	DeleteDevice(ctx context.Context, deviceID string) error
	ListDevices(ctx context.Context, filters DeviceFilters, limit, offset int) ([]*models.Device, int64, error)

	// Telemetry reading methods
	CreateReading(ctx context.Context, reading *models.TelemetryReading) error
	ListReadings(ctx context.Context, deviceID string, limit, offset int) ([]*models.TelemetryReading, int64, error)

	// Security event methods
	CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
	ListSecurityEvents(ctx context.Context, filters SecurityEventFilters, limit, offset int) ([]*models.SecurityEvent, int64, error)

	// Close the store
	Close() error
}

// DeviceFilters represents filters for device listing
type DeviceFilters struct {
	VerificationStatus *models.VerificationStatus
	TrustLevel         *models.TrustLevel
}

// SecurityEventFilters represents filters for security events
type SecurityEventFilters struct {
	DeviceID  *string
	Type      *models.SecurityEventType
	Success   *bool
	StartTime *time.Time
	EndTime   *time.Time
}
