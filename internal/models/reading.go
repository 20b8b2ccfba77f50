package models

import (
	"time"

	"github.com/google/uuid"
)

// TelemetryReading represents a stored telemetry payload from a device.
// Readings are only persisted after passing the ingestion security gate.
type TelemetryReading struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DeviceID   string    `json:"deviceId" db:"device_id"`
	Payload    string    `json:"payload" db:"payload"`
	Source     string    `json:"source" db:"source"`
	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
}

// Reading sources
const (
	ReadingSourceHTTP = "http"
	ReadingSourceNATS = "nats"
)
