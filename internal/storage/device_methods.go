package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gridtrust/device-trust-server/internal/models"
)

// ========== Device Methods ==========

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
        INSERT INTO devices (
            id, created_at, updated_at, device_id, brand, model, protocol,
            verification_status, trust_level, is_verified, auth_secret,
            sample_telemetry, submitted_at, verification_date, reviewer_id,
            review_notes, last_seen_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
        )`

	_, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.CreatedAt, device.UpdatedAt, device.DeviceID,
		device.Brand, device.Model, device.Protocol,
		device.VerificationStatus, device.TrustLevel, device.IsVerified,
		device.AuthSecret, device.SampleTelemetry, device.SubmittedAt,
		device.VerificationDate, device.ReviewerID, device.ReviewNotes,
		device.LastSeenAt,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

const deviceColumns = `id, created_at, updated_at, device_id, brand, model, protocol,
        verification_status, trust_level, is_verified, auth_secret,
        sample_telemetry, submitted_at, verification_date, reviewer_id,
        review_notes, last_seen_at`

// GetDevice gets a device by its external device ID
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`

	device := &models.Device{}
	err := s.getDB().QueryRowContext(ctx, query, deviceID).Scan(
		&device.ID, &device.CreatedAt, &device.UpdatedAt, &device.DeviceID,
		&device.Brand, &device.Model, &device.Protocol,
		&device.VerificationStatus, &device.TrustLevel, &device.IsVerified,
		&device.AuthSecret, &device.SampleTelemetry, &device.SubmittedAt,
		&device.VerificationDate, &device.ReviewerID, &device.ReviewNotes,
		&device.LastSeenAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return device, nil
}

// UpdateDevice updates a device
func (s *PostgresStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	query := `
        UPDATE devices SET
            updated_at = $2, brand = $3, model = $4, protocol = $5,
            verification_status = $6, trust_level = $7, is_verified = $8,
            auth_secret = $9, sample_telemetry = $10, submitted_at = $11,
            verification_date = $12, reviewer_id = $13, review_notes = $14,
            last_seen_at = $15
        WHERE device_id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		device.DeviceID, device.UpdatedAt, device.Brand, device.Model,
		device.Protocol, device.VerificationStatus, device.TrustLevel,
		device.IsVerified, device.AuthSecret, device.SampleTelemetry,
		device.SubmittedAt, device.VerificationDate, device.ReviewerID,
		device.ReviewNotes, device.LastSeenAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// TouchDeviceLastSeen updates only the device's last-seen timestamp.
// It deliberately touches no other column so it cannot clobber a
// verification decision or secret rotation committing concurrently.
func (s *PostgresStore) TouchDeviceLastSeen(ctx context.Context, deviceID string, seenAt time.Time) error {
	result, err := s.getDB().ExecContext(ctx,
		`UPDATE devices SET last_seen_at = $2, updated_at = $3 WHERE device_id = $1`,
		deviceID, seenAt, time.Now())
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDevice deletes a device
func (s *PostgresStore) DeleteDevice(ctx context.Context, deviceID string) error {
	result, err := s.getDB().ExecContext(ctx,
		`DELETE FROM devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListDevices lists devices with filters
func (s *PostgresStore) ListDevices(ctx context.Context, filters DeviceFilters, limit, offset int) ([]*models.Device, int64, error) {
	query := "SELECT COUNT(*) FROM devices WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.VerificationStatus != nil {
		argCount++
		query += fmt.Sprintf(" AND verification_status = $%d", argCount)
		args = append(args, *filters.VerificationStatus)
	}

	if filters.TrustLevel != nil {
		argCount++
		query += fmt.Sprintf(" AND trust_level = $%d", argCount)
		args = append(args, *filters.TrustLevel)
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	selectQuery := strings.Replace(query, "SELECT COUNT(*)",
		"SELECT "+deviceColumns, 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.getDB().QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device := &models.Device{}
		err := rows.Scan(
			&device.ID, &device.CreatedAt, &device.UpdatedAt, &device.DeviceID,
			&device.Brand, &device.Model, &device.Protocol,
			&device.VerificationStatus, &device.TrustLevel, &device.IsVerified,
			&device.AuthSecret, &device.SampleTelemetry, &device.SubmittedAt,
			&device.VerificationDate, &device.ReviewerID, &device.ReviewNotes,
			&device.LastSeenAt,
		)
		if err != nil {
			return nil, 0, err
		}
		devices = append(devices, device)
	}

	return devices, count, nil
}
