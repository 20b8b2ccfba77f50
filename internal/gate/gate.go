// Package gate is the single enforcement point every telemetry write
// must pass through before data is persisted.
package gate

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gridtrust/device-trust-server/internal/audit"
	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/secret"
)

// Authority answers the two trust questions the gate depends on. The
// verification lifecycle implements it locally; authority.Client
// implements it against a remote trust authority.
type Authority interface {
	CanSendData(ctx context.Context, deviceID string) (bool, error)
	ValidateAuthSecret(ctx context.Context, deviceID, candidate string) (bool, error)
}

// RejectReason identifies why the gate refused a write
type RejectReason string

const (
	ReasonDeviceNotVerified     RejectReason = "DeviceNotVerified"
	ReasonInvalidDeviceAuth     RejectReason = "InvalidDeviceAuth"
	ReasonDeviceAuthRequired    RejectReason = "DeviceAuthRequired"
	ReasonValidationUnavailable RejectReason = "ValidationUnavailable"
)

// Decision is the gate's verdict on one inbound reading. Err holds the
// underlying failure for ValidationUnavailable rejections; it is kept
// for the audit log only and must never reach the device.
type Decision struct {
	Accepted bool
	Reason   RejectReason
	Err      error
}

// Policy configures which checks the gate enforces. Turning a check
// off is an explicit operational decision, never a failure fallback.
type Policy struct {
	VerificationRequired     bool
	SecretValidationRequired bool
}

// DefaultPolicy enforces both checks
func DefaultPolicy() Policy {
	return Policy{VerificationRequired: true, SecretValidationRequired: true}
}

// Gate validates inbound telemetry against the trust authority
type Gate struct {
	authority Authority
	audit     *audit.Log
	policy    Policy
}

// New creates a new ingestion security gate
func New(authority Authority, auditLog *audit.Log, policy Policy) *Gate {
	return &Gate{
		authority: authority,
		audit:     auditLog,
		policy:    policy,
	}
}

// Validate decides whether a telemetry write from deviceID may proceed.
// suppliedSecret is the out-of-band secret if the caller has one; when
// empty, the gate falls back to extracting one from the payload. Every
// unexpected error maps to a ValidationUnavailable rejection at this
// single chokepoint, and every decision emits exactly one security
// event.
func (g *Gate) Validate(ctx context.Context, deviceID, payload, suppliedSecret string) Decision {
	decision := g.validate(ctx, deviceID, payload, suppliedSecret)
	g.record(ctx, deviceID, decision)
	return decision
}

func (g *Gate) validate(ctx context.Context, deviceID, payload, suppliedSecret string) Decision {
	if !g.policy.VerificationRequired {
		return Decision{Accepted: true}
	}

	allowed, err := g.authority.CanSendData(ctx, deviceID)
	if err != nil {
		log.Warn().Err(err).Str("device_id", deviceID).
			Msg("Trust authority unreachable, rejecting")
		return Decision{Reason: ReasonValidationUnavailable, Err: err}
	}
	if !allowed {
		return Decision{Reason: ReasonDeviceNotVerified}
	}

	if !g.policy.SecretValidationRequired {
		return Decision{Accepted: true}
	}

	candidate := suppliedSecret
	if candidate == "" {
		candidate, _ = secret.Extract(payload)
	}
	if candidate == "" {
		// A missing secret is never an implicit pass.
		return Decision{Reason: ReasonDeviceAuthRequired}
	}

	valid, err := g.authority.ValidateAuthSecret(ctx, deviceID, candidate)
	if err != nil {
		log.Warn().Err(err).Str("device_id", deviceID).
			Msg("Secret validation unavailable, rejecting")
		return Decision{Reason: ReasonValidationUnavailable, Err: err}
	}
	if !valid {
		return Decision{Reason: ReasonInvalidDeviceAuth}
	}

	return Decision{Accepted: true}
}

func (g *Gate) record(ctx context.Context, deviceID string, decision Decision) {
	if decision.Accepted {
		g.audit.Record(ctx, deviceID, models.EventTypeIngestionAuthSuccess, nil, true)
		return
	}

	eventType := models.EventTypeIngestionAuthFailure
	if decision.Reason == ReasonDeviceNotVerified {
		eventType = models.EventTypeCanSendDataDenied
	}

	details := models.Variables{"reason": string(decision.Reason)}
	if decision.Err != nil {
		details["error"] = decision.Err.Error()
	}
	g.audit.Record(ctx, deviceID, eventType, details, false)
}
