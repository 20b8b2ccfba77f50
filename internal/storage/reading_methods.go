package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gridtrust/device-trust-server/internal/models"
)

// CreateReading stores an accepted telemetry reading
func (s *PostgresStore) CreateReading(ctx context.Context, reading *models.TelemetryReading) error {
	if reading.ID == uuid.Nil {
		reading.ID = uuid.New()
	}

	if reading.ReceivedAt.IsZero() {
		reading.ReceivedAt = time.Now()
	}

	query := `
        INSERT INTO telemetry_readings (
            id, device_id, payload, source, received_at
        ) VALUES ($1, $2, $3, $4, $5)`

	_, err := s.getDB().ExecContext(ctx, query,
		reading.ID, reading.DeviceID, reading.Payload, reading.Source,
		reading.ReceivedAt,
	)

	return err
}

// ListReadings lists stored readings for a device
func (s *PostgresStore) ListReadings(ctx context.Context, deviceID string, limit, offset int) ([]*models.TelemetryReading, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM telemetry_readings WHERE device_id = $1`,
		deviceID).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, device_id, payload, source, received_at
        FROM telemetry_readings
        WHERE device_id = $1
        ORDER BY received_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, deviceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var readings []*models.TelemetryReading
	for rows.Next() {
		reading := &models.TelemetryReading{}
		err := rows.Scan(
			&reading.ID, &reading.DeviceID, &reading.Payload,
			&reading.Source, &reading.ReceivedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		readings = append(readings, reading)
	}

	return readings, count, nil
}
