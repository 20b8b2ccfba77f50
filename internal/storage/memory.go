package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridtrust/device-trust-server/internal/models"
)

// MemoryStore implements Store in memory. It backs tests and
// single-node dev deployments (storage.driver: memory).
type MemoryStore struct {
	mu       sync.RWMutex
	devices  map[string]*models.Device
	readings []*models.TelemetryReading
	events   []*models.SecurityEvent
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]*models.Device),
	}
}

// BeginTx returns the store itself; the memory store serializes each
// operation with its own lock and has no transaction support.
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) { return s, nil }

// Commit is a no-op
func (s *MemoryStore) Commit() error { return nil }

// Rollback is a no-op
func (s *MemoryStore) Rollback() error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

// CreateDevice creates a new device
func (s *MemoryStore) CreateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[device.DeviceID]; ok {
		return ErrDuplicateKey
	}

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	cp := *device
	s.devices[device.DeviceID] = &cp
	return nil
}

// GetDevice gets a device by its external device ID
func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *device
	return &cp, nil
}

// UpdateDevice updates a device
func (s *MemoryStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.devices[device.DeviceID]
	if !ok {
		return ErrNotFound
	}

	device.ID = stored.ID
	device.CreatedAt = stored.CreatedAt
	device.UpdatedAt = time.Now()

	cp := *device
	s.devices[device.DeviceID] = &cp
	return nil
}

// TouchDeviceLastSeen updates only the device's last-seen timestamp
func (s *MemoryStore) TouchDeviceLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.devices[deviceID]
	if !ok {
		return ErrNotFound
	}

	t := seenAt
	stored.LastSeenAt = &t
	stored.UpdatedAt = time.Now()
	return nil
}

// DeleteDevice deletes a device
func (s *MemoryStore) DeleteDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[deviceID]; !ok {
		return ErrNotFound
	}
	delete(s.devices, deviceID)
	return nil
}

// ListDevices lists devices with filters
func (s *MemoryStore) ListDevices(ctx context.Context, filters DeviceFilters, limit, offset int) ([]*models.Device, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Device
	for _, device := range s.devices {
		if filters.VerificationStatus != nil && device.VerificationStatus != *filters.VerificationStatus {
			continue
		}
		if filters.TrustLevel != nil && device.TrustLevel != *filters.TrustLevel {
			continue
		}
		cp := *device
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	return paginate(matched, limit, offset), total, nil
}

// CreateReading stores an accepted telemetry reading
func (s *MemoryStore) CreateReading(ctx context.Context, reading *models.TelemetryReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reading.ID == uuid.Nil {
		reading.ID = uuid.New()
	}
	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = time.Now()
	}

	cp := *reading
	s.readings = append(s.readings, &cp)
	return nil
}

// ListReadings lists stored readings for a device
func (s *MemoryStore) ListReadings(ctx context.Context, deviceID string, limit, offset int) ([]*models.TelemetryReading, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.TelemetryReading
	for _, reading := range s.readings {
		if reading.DeviceID != deviceID {
			continue
		}
		cp := *reading
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})

	total := int64(len(matched))
	return paginate(matched, limit, offset), total, nil
}

// CreateSecurityEvent appends a security event
func (s *MemoryStore) CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// ListSecurityEvents lists security events with filters
func (s *MemoryStore) ListSecurityEvents(ctx context.Context, filters SecurityEventFilters, limit, offset int) ([]*models.SecurityEvent, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.SecurityEvent
	for _, event := range s.events {
		if filters.DeviceID != nil && event.DeviceID != *filters.DeviceID {
			continue
		}
		if filters.Type != nil && event.Type != *filters.Type {
			continue
		}
		if filters.Success != nil && event.Success != *filters.Success {
			continue
		}
		if filters.StartTime != nil && event.CreatedAt.Before(*filters.StartTime) {
			continue
		}
		if filters.EndTime != nil && event.CreatedAt.After(*filters.EndTime) {
			continue
		}
		cp := *event
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	return paginate(matched, limit, offset), total, nil
}

func paginate[T any](items []*T, limit, offset int) []*T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
