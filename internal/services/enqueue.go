package services

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/google/uuid"
)

// EnqueueService is the synchronous front door for new work. It never
// touches the network.
type EnqueueService struct {
	store queue.Store
	log   logging.Logger
	options
}

func NewEnqueueService(store queue.Store, log logging.Logger, opts ...Option) *EnqueueService {
	return &EnqueueService{
		store:   store,
		log:     log.With("module", "enqueue"),
		options: newOptions(opts),
	}
}

// RequestUpload queues a captured reading. The photo at localBlobPath must
// already be owned by the caller exclusively; the queue entry takes over
// that ownership. A zero capturedAt is replaced by the current time.
func (s *EnqueueService) RequestUpload(ctx context.Context, ownerID, meterID, localBlobPath string, value float64, capturedAt time.Time) (int64, error) {
	if err := required(map[string]string{
		"ownerId":       ownerID,
		"meterId":       meterID,
		"localBlobPath": localBlobPath,
	}); err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: value must be a finite number", common.ErrValidation)
	}
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}

	u := &models.QueuedUpload{
		ReadingID:     uuid.NewString(),
		OwnerID:       ownerID,
		MeterID:       meterID,
		LocalBlobPath: localBlobPath,
		Value:         value,
		CapturedAt:    capturedAt,
	}

	id, err := s.store.EnqueueUpload(ctx, u)
	if err != nil {
		return 0, fmt.Errorf("enqueue upload: %w", err)
	}

	s.log.Info(ctx, "upload queued", "upload_id", id, "reading_id", u.ReadingID, "meter_id", meterID)
	return id, nil
}

// RequestDeletion queues the removal of an owning entity and everything
// below it.
func (s *EnqueueService) RequestDeletion(ctx context.Context, kind models.EntityKind, ownerID, entityID string) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown entity kind %q", common.ErrValidation, kind)
	}
	if err := required(map[string]string{
		"ownerId":  ownerID,
		"entityId": entityID,
	}); err != nil {
		return 0, err
	}

	id, err := s.store.EnqueueDeletion(ctx, &models.QueuedDeletion{
		EntityKind: kind,
		OwnerID:    ownerID,
		EntityID:   entityID,
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue deletion: %w", err)
	}

	s.log.Info(ctx, "deletion queued", "deletion_id", id, "kind", kind, "entity_id", entityID)
	return id, nil
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%w: missing %s", common.ErrValidation, strings.Join(missing, ", "))
}
