// Package verification owns the device verification state machine and
// the auth secrets tied to it. All trust policy concentrates here; the
// ingestion gate only consumes the CanSendData and ValidateAuthSecret
// predicates and never re-implements policy.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridtrust/device-trust-server/internal/audit"
	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/secret"
	"github.com/gridtrust/device-trust-server/internal/storage"
)

// Lifecycle manages the verification state machine for devices
type Lifecycle struct {
	store storage.Store
	audit *audit.Log

	// Per-device serialization of review and secret rotation, so a
	// reading is never validated against a secret mid-rotation.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewLifecycle creates a new verification lifecycle service
func NewLifecycle(store storage.Store, auditLog *audit.Log) *Lifecycle {
	return &Lifecycle{
		store: store,
		audit: auditLog,
		locks: make(map[string]*sync.Mutex),
	}
}

// deviceLock returns the mutation lock for a device
func (l *Lifecycle) deviceLock(deviceID string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	mu, ok := l.locks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[deviceID] = mu
	}
	return mu
}

// Submit registers a device for verification. A new device starts in
// PENDING; a REJECTED device may be resubmitted, which resets it to
// PENDING and clears its previous review attributes. APPROVED and
// UNDER_REVIEW devices cannot be resubmitted.
func (l *Lifecycle) Submit(ctx context.Context, req *models.VerificationRequest) (*models.Device, error) {
	if req.DeviceID == "" || req.Brand == "" || req.Model == "" || req.Protocol == "" {
		return nil, fmt.Errorf("%w: deviceID, brand, model and protocol are required", ErrInvalidSubmission)
	}

	mu := l.deviceLock(req.DeviceID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()

	device, err := l.store.GetDevice(ctx, req.DeviceID)
	switch {
	case err == nil:
		switch device.VerificationStatus {
		case models.VerificationStatusApproved, models.VerificationStatusUnderReview:
			return nil, &TransitionError{
				DeviceID:  req.DeviceID,
				Current:   device.VerificationStatus,
				Requested: models.VerificationStatusPending,
			}
		}

		// Resubmission: back to PENDING, previous review cleared.
		device.Brand = req.Brand
		device.Model = req.Model
		device.Protocol = req.Protocol
		device.SampleTelemetry = req.SampleTelemetry
		device.SubmittedAt = &now
		device.VerificationStatus = models.VerificationStatusPending
		device.TrustLevel = models.TrustLevelUnverified
		device.IsVerified = false
		device.VerificationDate = nil
		device.ReviewerID = nil
		device.ReviewNotes = ""

		if err := l.store.UpdateDevice(ctx, device); err != nil {
			return nil, fmt.Errorf("update device: %w", err)
		}

	case errors.Is(err, storage.ErrNotFound):
		device = &models.Device{
			DeviceID:           req.DeviceID,
			Brand:              req.Brand,
			Model:              req.Model,
			Protocol:           req.Protocol,
			SampleTelemetry:    req.SampleTelemetry,
			SubmittedAt:        &now,
			VerificationStatus: models.VerificationStatusPending,
			TrustLevel:         models.TrustLevelUnverified,
		}
		if err := l.store.CreateDevice(ctx, device); err != nil {
			return nil, fmt.Errorf("create device: %w", err)
		}

	default:
		return nil, fmt.Errorf("get device: %w", err)
	}

	l.audit.Record(ctx, device.DeviceID, models.EventTypeDeviceSubmitted, models.Variables{
		"brand":    device.Brand,
		"model":    device.Model,
		"protocol": device.Protocol,
	}, true)

	return device, nil
}

// MarkUnderReview moves a PENDING device to UNDER_REVIEW
func (l *Lifecycle) MarkUnderReview(ctx context.Context, deviceID, reviewerID string) (*models.Device, error) {
	mu := l.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	device, err := l.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}

	if device.VerificationStatus != models.VerificationStatusPending {
		return nil, &TransitionError{
			DeviceID:  deviceID,
			Current:   device.VerificationStatus,
			Requested: models.VerificationStatusUnderReview,
		}
	}

	device.VerificationStatus = models.VerificationStatusUnderReview
	device.ReviewerID = &reviewerID

	if err := l.store.UpdateDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}

	l.audit.Record(ctx, deviceID, models.EventTypeDeviceUnderReview, models.Variables{
		"reviewer_id": reviewerID,
	}, true)

	return device, nil
}

// Review decides a verification. The decision must be APPROVED or
// REJECTED, reachable from PENDING or UNDER_REVIEW only. APPROVED sets
// isVerified, the verification date and escalates the trust level to
// BASIC; escalation to TRUSTED never happens here.
func (l *Lifecycle) Review(ctx context.Context, deviceID string, decision models.VerificationStatus, notes, reviewerID string) (*models.Device, error) {
	if decision != models.VerificationStatusApproved && decision != models.VerificationStatusRejected {
		return nil, fmt.Errorf("%w: decision must be APPROVED or REJECTED, got %s", ErrInvalidTransition, decision)
	}

	mu := l.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	device, err := l.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}

	switch device.VerificationStatus {
	case models.VerificationStatusPending, models.VerificationStatusUnderReview:
	default:
		return nil, &TransitionError{
			DeviceID:  deviceID,
			Current:   device.VerificationStatus,
			Requested: decision,
		}
	}

	now := time.Now()
	device.VerificationStatus = decision
	device.IsVerified = decision == models.VerificationStatusApproved
	device.VerificationDate = &now
	device.ReviewerID = &reviewerID
	device.ReviewNotes = notes

	if decision == models.VerificationStatusApproved {
		device.TrustLevel = models.TrustLevelBasic
	} else {
		device.TrustLevel = models.TrustLevelUnverified
	}

	if err := l.store.UpdateDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}

	l.audit.Record(ctx, deviceID, models.EventTypeDeviceReviewed, models.Variables{
		"decision":    string(decision),
		"reviewer_id": reviewerID,
		"notes":       notes,
	}, device.IsVerified)

	return device, nil
}

// Promote raises an APPROVED device from BASIC to TRUSTED. This is an
// explicit operator action; the review flow never escalates past BASIC.
func (l *Lifecycle) Promote(ctx context.Context, deviceID, reviewerID string) (*models.Device, error) {
	mu := l.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	device, err := l.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}

	if device.VerificationStatus != models.VerificationStatusApproved ||
		device.TrustLevel != models.TrustLevelBasic {
		return nil, fmt.Errorf("%w: promotion requires an APPROVED device at BASIC trust (status %s, trust %s)",
			ErrInvalidTransition, device.VerificationStatus, device.TrustLevel)
	}

	device.TrustLevel = models.TrustLevelTrusted

	if err := l.store.UpdateDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}

	l.audit.Record(ctx, deviceID, models.EventTypeDevicePromoted, models.Variables{
		"reviewer_id": reviewerID,
		"trust_level": string(models.TrustLevelTrusted),
	}, true)

	return device, nil
}

// CanSendData reports whether a device is allowed to send telemetry:
// true iff its verification status is APPROVED. Unknown devices return
// false, never an error; this runs on the hot ingestion path and must
// fail closed rather than propagate.
func (l *Lifecycle) CanSendData(ctx context.Context, deviceID string) (bool, error) {
	device, err := l.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get device: %w", err)
	}
	return device.VerificationStatus == models.VerificationStatusApproved, nil
}

// GenerateAuthSecret creates a new random secret for a device,
// overwriting any previous one. Rotation invalidates the old secret
// immediately; there is no grace period.
func (l *Lifecycle) GenerateAuthSecret(ctx context.Context, deviceID string) (string, error) {
	mu := l.deviceLock(deviceID)
	mu.Lock()
	defer mu.Unlock()

	device, err := l.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get device: %w", err)
	}

	newSecret, err := secret.Generate()
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}

	rotated := device.AuthSecret != nil
	device.AuthSecret = &newSecret

	if err := l.store.UpdateDevice(ctx, device); err != nil {
		return "", fmt.Errorf("update device: %w", err)
	}

	l.audit.Record(ctx, deviceID, models.EventTypeAuthSecretRotated, models.Variables{
		"rotated": rotated,
	}, true)

	log.Info().Str("device_id", deviceID).Bool("rotated", rotated).
		Msg("Auth secret generated")

	return newSecret, nil
}

// ValidateAuthSecret compares a candidate secret against the stored
// one in constant time. Unknown devices and devices without a secret
// return false, never an error.
func (l *Lifecycle) ValidateAuthSecret(ctx context.Context, deviceID, candidate string) (bool, error) {
	if candidate == "" {
		return false, nil
	}

	device, err := l.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get device: %w", err)
	}

	if device.AuthSecret == nil {
		return false, nil
	}

	return secret.Equal(*device.AuthSecret, candidate), nil
}

// StatusOf returns the verification status of a device, or ok=false
// when the device has never been submitted.
func (l *Lifecycle) StatusOf(ctx context.Context, deviceID string) (models.VerificationStatus, bool, error) {
	device, err := l.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get device: %w", err)
	}
	return device.VerificationStatus, true, nil
}
