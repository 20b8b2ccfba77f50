package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridtrust/device-trust-server/internal/models"
	"github.com/gridtrust/device-trust-server/internal/storage"
)

func TestRecordAppendsEvent(t *testing.T) {
	store := storage.NewMemoryStore()
	auditLog := NewLog(store)
	ctx := context.Background()

	auditLog.Record(ctx, "meter-1", models.EventTypeIngestionAuthSuccess, nil, true)
	auditLog.Record(ctx, "meter-1", models.EventTypeIngestionAuthFailure,
		models.Variables{"reason": "InvalidDeviceAuth"}, false)

	events, total, err := store.ListSecurityEvents(ctx, storage.SecurityEventFilters{}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	for _, event := range events {
		assert.Equal(t, "meter-1", event.DeviceID)
		assert.False(t, event.CreatedAt.IsZero())
	}
}

// brokenStore fails every event write
type brokenStore struct {
	*storage.MemoryStore
}

func (brokenStore) CreateSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	return errors.New("disk full")
}

func TestRecordIsBestEffort(t *testing.T) {
	auditLog := NewLog(brokenStore{storage.NewMemoryStore()})

	// Must not panic or propagate the error.
	auditLog.Record(context.Background(), "meter-1", models.EventTypeIngestionAuthSuccess, nil, true)
}
