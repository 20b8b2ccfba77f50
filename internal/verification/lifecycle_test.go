package verification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridtrust/device-trust-server/internal/audit"
	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/storage"
)

func newLifecycle(t *testing.T) (*Lifecycle, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewLifecycle(store, audit.NewLog(store)), store
}

func submitRequest(deviceID string) *models.VerificationRequest {
	return &models.VerificationRequest{
		DeviceID:        deviceID,
		SampleTelemetry: `{"voltage":220}`,
		Brand:           "Acme",
		Model:           "SM-100",
		Protocol:        "modbus",
	}
}

func TestSubmitCreatesPendingDevice(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	device, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	assert.Equal(t, models.VerificationStatusPending, device.VerificationStatus)
	assert.Equal(t, models.TrustLevelUnverified, device.TrustLevel)
	assert.False(t, device.IsVerified)
	require.NotNil(t, device.SubmittedAt)
}

func TestSubmitRequiresDeclaredFields(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	req := submitRequest("meter-1")
	req.Brand = ""

	_, err := lc.Submit(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidSubmission)
}

func TestMarkUnderReview(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	device, err := lc.MarkUnderReview(ctx, "meter-1", "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.VerificationStatusUnderReview, device.VerificationStatus)

	// Not repeatable from UNDER_REVIEW
	_, err = lc.MarkUnderReview(ctx, "meter-1", "reviewer@example.com")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkUnderReviewUnknownDevice(t *testing.T) {
	lc, _ := newLifecycle(t)

	_, err := lc.MarkUnderReview(context.Background(), "ghost", "reviewer@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReviewApprove(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)
	_, err = lc.MarkUnderReview(ctx, "meter-1", "reviewer@example.com")
	require.NoError(t, err)

	device, err := lc.Review(ctx, "meter-1", models.VerificationStatusApproved, "looks genuine", "reviewer@example.com")
	require.NoError(t, err)

	assert.True(t, device.IsVerified)
	assert.Equal(t, models.VerificationStatusApproved, device.VerificationStatus)
	assert.Equal(t, models.TrustLevelBasic, device.TrustLevel)
	require.NotNil(t, device.VerificationDate)
	require.NotNil(t, device.ReviewerID)
	assert.Equal(t, "reviewer@example.com", *device.ReviewerID)
}

func TestReviewDirectlyFromPending(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	device, err := lc.Review(ctx, "meter-1", models.VerificationStatusRejected, "unknown vendor", "reviewer@example.com")
	require.NoError(t, err)

	assert.False(t, device.IsVerified)
	assert.Equal(t, models.VerificationStatusRejected, device.VerificationStatus)
	assert.Equal(t, models.TrustLevelUnverified, device.TrustLevel)
}

func TestReviewFromTerminalStateFails(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)
	_, err = lc.Review(ctx, "meter-1", models.VerificationStatusApproved, "", "reviewer@example.com")
	require.NoError(t, err)

	_, err = lc.Review(ctx, "meter-1", models.VerificationStatusRejected, "", "reviewer@example.com")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, models.VerificationStatusApproved, te.Current)
	assert.Equal(t, models.VerificationStatusRejected, te.Requested)
}

func TestReviewRejectsBogusDecision(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	_, err = lc.Review(ctx, "meter-1", models.VerificationStatusPending, "", "reviewer@example.com")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestResubmissionAfterRejection(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)
	_, err = lc.Review(ctx, "meter-1", models.VerificationStatusRejected, "bad docs", "reviewer@example.com")
	require.NoError(t, err)

	device, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	assert.Equal(t, models.VerificationStatusPending, device.VerificationStatus)
	assert.False(t, device.IsVerified)
	assert.Nil(t, device.VerificationDate)
	assert.Nil(t, device.ReviewerID)
	assert.Empty(t, device.ReviewNotes)
}

func TestResubmissionOfApprovedDeviceFails(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)
	_, err = lc.Review(ctx, "meter-1", models.VerificationStatusApproved, "", "reviewer@example.com")
	require.NoError(t, err)

	_, err = lc.Submit(ctx, submitRequest("meter-1"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCanSendDataOnlyWhenApproved(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	// Never submitted: false, no error
	ok, err := lc.CanSendData(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	ok, err = lc.CanSendData(ctx, "meter-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = lc.Review(ctx, "meter-1", models.VerificationStatusApproved, "", "reviewer@example.com")
	require.NoError(t, err)

	ok, err = lc.CanSendData(ctx, "meter-1")
	require.NoError(t, err)
	assert.True(t, ok)

	status, found, err := lc.StatusOf(ctx, "meter-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.VerificationStatusApproved, status)
}

func TestValidateAuthSecret(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	// Unknown device: false, no error
	ok, err := lc.ValidateAuthSecret(ctx, "ghost", "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	// No secret generated yet
	ok, err = lc.ValidateAuthSecret(ctx, "meter-1", "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	generated, err := lc.GenerateAuthSecret(ctx, "meter-1")
	require.NoError(t, err)
	require.NotEmpty(t, generated)

	ok, err = lc.ValidateAuthSecret(ctx, "meter-1", generated)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lc.ValidateAuthSecret(ctx, "meter-1", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRotationInvalidatesOldSecret(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	old, err := lc.GenerateAuthSecret(ctx, "meter-1")
	require.NoError(t, err)

	rotated, err := lc.GenerateAuthSecret(ctx, "meter-1")
	require.NoError(t, err)
	require.NotEqual(t, old, rotated)

	ok, err := lc.ValidateAuthSecret(ctx, "meter-1", old)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = lc.ValidateAuthSecret(ctx, "meter-1", rotated)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentRotationsSerialize(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	// Racing rotations must serialize on the per-device lock: afterwards
	// exactly one of the returned secrets is the live one.
	const rotations = 8
	secrets := make([]string, rotations)

	var wg sync.WaitGroup
	for i := 0; i < rotations; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := lc.GenerateAuthSecret(ctx, "meter-1")
			assert.NoError(t, err)
			secrets[i] = s
		}(i)
	}
	wg.Wait()

	live := 0
	for _, s := range secrets {
		require.NotEmpty(t, s)
		ok, err := lc.ValidateAuthSecret(ctx, "meter-1", s)
		require.NoError(t, err)
		if ok {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestGenerateAuthSecretUnknownDevice(t *testing.T) {
	lc, _ := newLifecycle(t)

	_, err := lc.GenerateAuthSecret(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPromote(t *testing.T) {
	lc, _ := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)

	// Not approved yet
	_, err = lc.Promote(ctx, "meter-1", "reviewer@example.com")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = lc.Review(ctx, "meter-1", models.VerificationStatusApproved, "", "reviewer@example.com")
	require.NoError(t, err)

	device, err := lc.Promote(ctx, "meter-1", "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.TrustLevelTrusted, device.TrustLevel)

	// Idempotent promotion is not allowed
	_, err = lc.Promote(ctx, "meter-1", "reviewer@example.com")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLifecycleEmitsSecurityEvents(t *testing.T) {
	lc, store := newLifecycle(t)
	ctx := context.Background()

	_, err := lc.Submit(ctx, submitRequest("meter-1"))
	require.NoError(t, err)
	_, err = lc.MarkUnderReview(ctx, "meter-1", "reviewer@example.com")
	require.NoError(t, err)
	_, err = lc.Review(ctx, "meter-1", models.VerificationStatusApproved, "", "reviewer@example.com")
	require.NoError(t, err)
	_, err = lc.GenerateAuthSecret(ctx, "meter-1")
	require.NoError(t, err)

	events, total, err := store.ListSecurityEvents(ctx, storage.SecurityEventFilters{}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)

	types := make(map[models.SecurityEventType]bool)
	for _, event := range events {
		assert.Equal(t, "meter-1", event.DeviceID)
		types[event.Type] = true
	}
	assert.True(t, types[models.EventTypeDeviceSubmitted])
	assert.True(t, types[models.EventTypeDeviceUnderReview])
	assert.True(t, types[models.EventTypeDeviceReviewed])
	assert.True(t, types[models.EventTypeAuthSecretRotated])
}
