package models

import (
	"time"
)

// VerificationStatus represents the verification lifecycle stage of a device
type VerificationStatus string

const (
	VerificationStatusPending     VerificationStatus = "PENDING"
	VerificationStatusUnderReview VerificationStatus = "UNDER_REVIEW"
	VerificationStatusApproved    VerificationStatus = "APPROVED"
	VerificationStatusRejected    VerificationStatus = "REJECTED"
)

// Valid reports whether s is one of the known verification statuses
func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationStatusPending, VerificationStatusUnderReview,
		VerificationStatusApproved, VerificationStatusRejected:
		return true
	}
	return false
}

// TrustLevel represents the authorization tier derived from verification
type TrustLevel string

const (
	TrustLevelUnverified TrustLevel = "UNVERIFIED"
	TrustLevelBasic      TrustLevel = "BASIC"
	TrustLevelTrusted    TrustLevel = "TRUSTED"
)

// Valid reports whether l is one of the known trust levels
func (l TrustLevel) Valid() bool {
	switch l {
	case TrustLevelUnverified, TrustLevelBasic, TrustLevelTrusted:
		return true
	}
	return false
}

// Device represents a field device (smart meter, inverter, gateway)
// registered with the trust authority.
type Device struct {
	BaseModel

	// Identifiers
	DeviceID string `json:"deviceId" db:"device_id"`

	// Declared metadata from the verification submission
	Brand    string `json:"brand" db:"brand"`
	Model    string `json:"model" db:"model"`
	Protocol string `json:"protocol" db:"protocol"`

	// Verification state
	VerificationStatus VerificationStatus `json:"verificationStatus" db:"verification_status"`
	TrustLevel         TrustLevel         `json:"trustLevel" db:"trust_level"`
	IsVerified         bool               `json:"isVerified" db:"is_verified"`

	// Shared token proving a connection belongs to this device.
	// Never serialized to API clients.
	AuthSecret *string `json:"-" db:"auth_secret"`

	// Review audit attributes
	SampleTelemetry  string     `json:"sampleTelemetry,omitempty" db:"sample_telemetry"`
	SubmittedAt      *time.Time `json:"submittedAt,omitempty" db:"submitted_at"`
	VerificationDate *time.Time `json:"verificationDate,omitempty" db:"verification_date"`
	ReviewerID       *string    `json:"reviewerId,omitempty" db:"reviewer_id"`
	ReviewNotes      string     `json:"reviewNotes,omitempty" db:"review_notes"`

	// Status
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
}

// VerificationRequest represents a device verification submission.
// It is consumed by the review step; its data becomes audit attributes
// of the Device rather than a retained entity.
type VerificationRequest struct {
	DeviceID        string    `json:"deviceId" validate:"required"`
	SampleTelemetry string    `json:"sampleTelemetry"`
	Brand           string    `json:"brand" validate:"required"`
	Model           string    `json:"model" validate:"required"`
	Protocol        string    `json:"protocol" validate:"required"`
	SubmittedAt     time.Time `json:"submittedAt"`
}
