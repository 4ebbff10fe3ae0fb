package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fullStore struct {
	queue.Store
}

func (fullStore) EnqueueUpload(context.Context, *models.QueuedUpload) (int64, error) {
	return 0, errors.Join(common.ErrStorageFull, errors.New("disk full"))
}

func (fullStore) EnqueueDeletion(context.Context, *models.QueuedDeletion) (int64, error) {
	return 0, errors.Join(common.ErrStorageFull, errors.New("disk full"))
}

func TestRequestUpload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	captured := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	id, err := e.enqueue().RequestUpload(ctx, "u1", "m1", "/tmp/p.jpg", 123.4, captured)
	require.NoError(t, err)

	u, err := e.queue.GetUpload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.OwnerID)
	assert.Equal(t, "m1", u.MeterID)
	assert.Equal(t, "/tmp/p.jpg", u.LocalBlobPath)
	assert.Equal(t, 123.4, u.Value)
	assert.True(t, captured.Equal(u.CapturedAt))
	assert.Len(t, u.ReadingID, 36)
}

func TestRequestUpload_ZeroCapturedAtUsesClock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	svc := NewEnqueueService(e.queue, logging.Nop(), WithClock(func() time.Time { return now }))
	id, err := svc.RequestUpload(ctx, "u1", "m1", "/tmp/p.jpg", 1, time.Time{})
	require.NoError(t, err)

	u, err := e.queue.GetUpload(ctx, id)
	require.NoError(t, err)
	assert.True(t, now.Equal(u.CapturedAt))
}

func TestRequestUpload_Validation(t *testing.T) {
	e := newEnv(t)
	svc := e.enqueue()
	ctx := context.Background()

	tests := []struct {
		name    string
		owner   string
		meter   string
		path    string
		value   float64
		wantMsg string
	}{
		{name: "no owner", meter: "m1", path: "/p", wantMsg: "ownerId"},
		{name: "blank meter", owner: "u1", meter: "  ", path: "/p", wantMsg: "meterId"},
		{name: "no path", owner: "u1", meter: "m1", wantMsg: "localBlobPath"},
		{name: "NaN", owner: "u1", meter: "m1", path: "/p", value: math.NaN(), wantMsg: "finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RequestUpload(ctx, tt.owner, tt.meter, tt.path, tt.value, time.Now())
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}

	c, err := e.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, c.Uploads)
}

func TestRequestDeletion(t *testing.T) {
	e := newEnv(t)
	svc := e.enqueue()
	ctx := context.Background()

	id, err := svc.RequestDeletion(ctx, models.EntityKindLocation, "u1", "locA")
	require.NoError(t, err)

	again, err := svc.RequestDeletion(ctx, models.EntityKindLocation, "u1", "locA")
	require.NoError(t, err)
	assert.Equal(t, id, again, "duplicate request reuses the queued entry")

	_, err = svc.RequestDeletion(ctx, models.EntityKind("Reading"), "u1", "r1")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.RequestDeletion(ctx, models.EntityKindMeter, "u1", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestEnqueue_StorageFullIsSurfaced(t *testing.T) {
	svc := NewEnqueueService(fullStore{}, logging.Nop())
	ctx := context.Background()

	_, err := svc.RequestUpload(ctx, "u1", "m1", "/p", 1, time.Now())
	assert.ErrorIs(t, err, common.ErrStorageFull)

	_, err = svc.RequestDeletion(ctx, models.EntityKindMeter, "u1", "m1")
	assert.ErrorIs(t, err, common.ErrStorageFull)
}
