package gate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridtrust/device-trust-server/internal/audit"
	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/storage"
	"github.com/gridtrust/device-trust-server/internal/verification"
)

// failingAuthority simulates an unreachable trust authority
type failingAuthority struct{}

func (failingAuthority) CanSendData(ctx context.Context, deviceID string) (bool, error) {
	return false, fmt.Errorf("connection refused")
}

func (failingAuthority) ValidateAuthSecret(ctx context.Context, deviceID, candidate string) (bool, error) {
	return false, fmt.Errorf("connection refused")
}

// flakyAuthority approves eligibility but cannot validate secrets
type flakyAuthority struct{}

func (flakyAuthority) CanSendData(ctx context.Context, deviceID string) (bool, error) {
	return true, nil
}

func (flakyAuthority) ValidateAuthSecret(ctx context.Context, deviceID, candidate string) (bool, error) {
	return false, errors.New("timeout")
}

type fixture struct {
	gate      *Gate
	lifecycle *verification.Lifecycle
	store     *storage.MemoryStore
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	auditLog := audit.NewLog(store)
	lifecycle := verification.NewLifecycle(store, auditLog)
	return &fixture{
		gate:      New(lifecycle, auditLog, policy),
		lifecycle: lifecycle,
		store:     store,
	}
}

func (f *fixture) approveDevice(t *testing.T, deviceID string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.lifecycle.Submit(ctx, &models.VerificationRequest{
		DeviceID: deviceID,
		Brand:    "Acme",
		Model:    "SM-100",
		Protocol: "modbus",
	})
	require.NoError(t, err)
	_, err = f.lifecycle.Review(ctx, deviceID, models.VerificationStatusApproved, "", "reviewer@example.com")
	require.NoError(t, err)
}

// gateEvents returns the audit events emitted by gate decisions,
// excluding lifecycle bookkeeping events.
func (f *fixture) gateEvents(t *testing.T) []*models.SecurityEvent {
	t.Helper()
	events, _, err := f.store.ListSecurityEvents(context.Background(), storage.SecurityEventFilters{}, 100, 0)
	require.NoError(t, err)

	var out []*models.SecurityEvent
	for _, event := range events {
		switch event.Type {
		case models.EventTypeIngestionAuthSuccess,
			models.EventTypeIngestionAuthFailure,
			models.EventTypeCanSendDataDenied:
			out = append(out, event)
		}
	}
	return out
}

func TestUnverifiedDeviceRejected(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	_, err := f.lifecycle.Submit(ctx, &models.VerificationRequest{
		DeviceID: "meter-1", Brand: "Acme", Model: "SM-100", Protocol: "modbus",
	})
	require.NoError(t, err)

	decision := f.gate.Validate(ctx, "meter-1", `{"voltage":220}`, "")
	assert.False(t, decision.Accepted)
	assert.Equal(t, ReasonDeviceNotVerified, decision.Reason)

	events := f.gateEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeCanSendDataDenied, events[0].Type)
	assert.False(t, events[0].Success)
	assert.Equal(t, "meter-1", events[0].DeviceID)
}

func TestUnknownDeviceRejected(t *testing.T) {
	f := newFixture(t, DefaultPolicy())

	decision := f.gate.Validate(context.Background(), "ghost", `{"voltage":220}`, "")
	assert.False(t, decision.Accepted)
	assert.Equal(t, ReasonDeviceNotVerified, decision.Reason)
}

func TestApprovedDeviceWithCorrectSecret(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	f.approveDevice(t, "meter-1")
	deviceSecret, err := f.lifecycle.GenerateAuthSecret(ctx, "meter-1")
	require.NoError(t, err)

	// Out-of-band secret
	decision := f.gate.Validate(ctx, "meter-1", `{"voltage":220}`, deviceSecret)
	assert.True(t, decision.Accepted)

	// Secret embedded in the payload
	payload := fmt.Sprintf(`{"voltage":220,"auth_secret":%q}`, deviceSecret)
	decision = f.gate.Validate(ctx, "meter-1", payload, "")
	assert.True(t, decision.Accepted)

	// Key-value payload layout
	decision = f.gate.Validate(ctx, "meter-1", "voltage: 220, auth_secret: "+deviceSecret, "")
	assert.True(t, decision.Accepted)
}

func TestApprovedDeviceWithWrongSecret(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	f.approveDevice(t, "meter-1")
	_, err := f.lifecycle.GenerateAuthSecret(ctx, "meter-1")
	require.NoError(t, err)

	decision := f.gate.Validate(ctx, "meter-1", `{"voltage":220}`, "wrong-secret")
	assert.False(t, decision.Accepted)
	assert.Equal(t, ReasonInvalidDeviceAuth, decision.Reason)
}

func TestApprovedDeviceWithoutSecret(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	f.approveDevice(t, "meter-1")
	_, err := f.lifecycle.GenerateAuthSecret(ctx, "meter-1")
	require.NoError(t, err)

	// A missing secret is never an implicit pass.
	decision := f.gate.Validate(ctx, "meter-1", `{"voltage":220}`, "")
	assert.False(t, decision.Accepted)
	assert.Equal(t, ReasonDeviceAuthRequired, decision.Reason)
}

func TestSecretValidationDisabled(t *testing.T) {
	f := newFixture(t, Policy{VerificationRequired: true, SecretValidationRequired: false})
	ctx := context.Background()

	f.approveDevice(t, "meter-1")

	decision := f.gate.Validate(ctx, "meter-1", `{"voltage":220}`, "")
	assert.True(t, decision.Accepted)
}

func TestVerificationDisabledBypassesEverything(t *testing.T) {
	f := newFixture(t, Policy{VerificationRequired: false, SecretValidationRequired: true})

	decision := f.gate.Validate(context.Background(), "ghost", "junk", "")
	assert.True(t, decision.Accepted)

	events := f.gateEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeIngestionAuthSuccess, events[0].Type)
}

func TestFailClosedOnAuthorityError(t *testing.T) {
	store := storage.NewMemoryStore()
	g := New(failingAuthority{}, audit.NewLog(store), DefaultPolicy())

	decision := g.Validate(context.Background(), "meter-1", `{"voltage":220}`, "some-secret")
	assert.False(t, decision.Accepted)
	assert.Equal(t, ReasonValidationUnavailable, decision.Reason)
	assert.Error(t, decision.Err)
}

func TestFailClosedOnSecretValidationError(t *testing.T) {
	store := storage.NewMemoryStore()
	g := New(flakyAuthority{}, audit.NewLog(store), DefaultPolicy())

	decision := g.Validate(context.Background(), "meter-1", `{"voltage":220}`, "some-secret")
	assert.False(t, decision.Accepted)
	assert.Equal(t, ReasonValidationUnavailable, decision.Reason)
}

func TestEveryDecisionEmitsOneEvent(t *testing.T) {
	f := newFixture(t, DefaultPolicy())
	ctx := context.Background()

	f.approveDevice(t, "meter-1")
	deviceSecret, err := f.lifecycle.GenerateAuthSecret(ctx, "meter-1")
	require.NoError(t, err)

	before := len(f.gateEvents(t))

	f.gate.Validate(ctx, "meter-1", `{"voltage":220}`, deviceSecret) // accept
	f.gate.Validate(ctx, "meter-1", `{"voltage":220}`, "wrong")     // reject
	f.gate.Validate(ctx, "ghost", `{"voltage":220}`, "")            // reject

	events := f.gateEvents(t)
	assert.Len(t, events, before+3)

	successes := 0
	for _, event := range events {
		if event.Success {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}
