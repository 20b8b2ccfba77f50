// Package audit records security events for every trust decision.
package audit

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/storage"
)

// Log writes append-only security events. Writes are best-effort: a
// failed append is logged but never blocks or reverses the decision
// that produced it.
type Log struct {
	store storage.Store
}

// NewLog creates a new security audit log
func NewLog(store storage.Store) *Log {
	return &Log{store: store}
}

// Record appends one security event
func (l *Log) Record(ctx context.Context, deviceID string, eventType models.SecurityEventType, details models.Variables, success bool) {
	event := &models.SecurityEvent{
		DeviceID: deviceID,
		Type:     eventType,
		Details:  details,
		Success:  success,
	}

	if err := l.store.CreateSecurityEvent(ctx, event); err != nil {
		log.Error().Err(err).
			Str("device_id", deviceID).
			Str("type", string(eventType)).
			Msg("Failed to write security event")
	}
}
