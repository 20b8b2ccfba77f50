package models

import (
	"time"

	"github.com/google/uuid"
)

// SecurityEvent represents an append-only security audit record.
// Events are immutable once written.
type SecurityEvent struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	DeviceID string            `json:"deviceId" db:"device_id"`
	Type     SecurityEventType `json:"type" db:"type"`
	Details  Variables         `json:"details,omitempty" db:"details"`
	Success  bool              `json:"success" db:"success"`
}

// SecurityEventType represents security event types
type SecurityEventType string

const (
	// Gate decisions
	EventTypeIngestionAuthSuccess SecurityEventType = "DATA_INGESTION_AUTH_SUCCESS"
	EventTypeIngestionAuthFailure SecurityEventType = "DATA_INGESTION_AUTH_FAILURE"
	EventTypeCanSendDataDenied    SecurityEventType = "CAN_SEND_DATA_DENIED"

	// Lifecycle events
	EventTypeDeviceSubmitted   SecurityEventType = "DEVICE_SUBMITTED"
	EventTypeDeviceUnderReview SecurityEventType = "DEVICE_UNDER_REVIEW"
	EventTypeDeviceReviewed    SecurityEventType = "DEVICE_REVIEWED"
	EventTypeDevicePromoted    SecurityEventType = "DEVICE_PROMOTED"
	EventTypeAuthSecretRotated SecurityEventType = "AUTH_SECRET_ROTATED"
)
