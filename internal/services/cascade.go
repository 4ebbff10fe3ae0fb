package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CascadeDeleter removes an owning entity together with everything it owns.
//
// Documents go in one atomic batch: a reading never outlives its meter and
// a meter never outlives its location. Blobs are deleted first, outside the
// batch, on a best-effort basis, so no committed document can point at a
// blob that is gone while a failed blob delete never blocks the cascade.
type CascadeDeleter struct {
	docs  remote.DocumentStore
	blobs remote.BlobStore
	log   logging.Logger
	options
}

func NewCascadeDeleter(docs remote.DocumentStore, blobs remote.BlobStore, log logging.Logger, opts ...Option) *CascadeDeleter {
	return &CascadeDeleter{
		docs:    docs,
		blobs:   blobs,
		log:     log.With("module", "cascade_deleter"),
		options: newOptions(opts),
	}
}

// Delete runs the cascade for one entity. It is idempotent: entities that
// are already gone produce an empty batch and no error.
func (c *CascadeDeleter) Delete(ctx context.Context, kind models.EntityKind, ownerID, entityID string) (err error) {
	started := c.now()
	ctx, span := c.tracer.Start(ctx, "CascadeDeleter.Delete", trace.WithAttributes(
		attribute.String("entity.kind", string(kind)),
		attribute.String("entity.id", entityID),
	))
	defer func() {
		c.obs.CascadeFinished(kind, err, c.now().Sub(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := c.log.With("kind", kind, "owner_id", ownerID, "entity_id", entityID)
	if err := c.checkOwner(ctx, kind, ownerID, entityID); err != nil {
		return err
	}
	batch := c.docs.Batch()

	switch kind {
	case models.EntityKindMeter:
		if err := c.purgeMeterDescendants(ctx, log, batch, entityID); err != nil {
			return err
		}
		batch.Delete(models.CollectionMeters, entityID)

	case models.EntityKindLocation:
		meters, err := c.docs.Query(ctx, models.CollectionMeters, remote.Where(models.FieldLocationID, entityID))
		if err != nil {
			return common.Transient(fmt.Errorf("query meters of location %s: %w", entityID, err))
		}
		for _, m := range meters {
			if err := c.purgeMeterDescendants(ctx, log, batch, m.ID); err != nil {
				return err
			}
			batch.Delete(models.CollectionMeters, m.ID)
		}
		batch.Delete(models.CollectionLocations, entityID)

	default:
		return fmt.Errorf("%w: cannot cascade entity kind %q", common.ErrValidation, kind)
	}

	staged := batch.Len()
	if err := batch.Commit(ctx); err != nil {
		return common.Transient(fmt.Errorf("commit cascade of %s %s: %w", kind, entityID, err))
	}

	log.Info(ctx, "cascade committed", "documents", staged)
	return nil
}

// checkOwner rejects a cascade whose target belongs to another user. A
// meter carries its owner directly or through its location. Entities that
// are gone or carry no owner pass, so retries of a committed cascade stay
// no-ops.
func (c *CascadeDeleter) checkOwner(ctx context.Context, kind models.EntityKind, ownerID, entityID string) error {
	var doc *remote.Document
	switch kind {
	case models.EntityKindLocation:
		loc, err := c.lookup(ctx, models.CollectionLocations, entityID)
		if err != nil || loc == nil {
			return err
		}
		doc = loc

	case models.EntityKindMeter:
		meter, err := c.lookup(ctx, models.CollectionMeters, entityID)
		if err != nil || meter == nil {
			return err
		}
		doc = meter
		if meter.String(models.FieldUserID) == "" && meter.String(models.FieldLocationID) != "" {
			loc, err := c.lookup(ctx, models.CollectionLocations, meter.String(models.FieldLocationID))
			if err != nil || loc == nil {
				return err
			}
			doc = loc
		}

	default:
		return nil
	}

	if owner := doc.String(models.FieldUserID); owner != "" && owner != ownerID {
		return fmt.Errorf("%w: %s %s belongs to another user", common.ErrValidation, kind, entityID)
	}
	return nil
}

// lookup returns nil, nil for a missing document.
func (c *CascadeDeleter) lookup(ctx context.Context, collection, id string) (*remote.Document, error) {
	doc, err := c.docs.Get(ctx, collection, id)
	if common.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Transient(fmt.Errorf("get %s/%s: %w", collection, id, err))
	}
	return doc, nil
}

// purgeMeterDescendants deletes the photos of every reading of meterID and
// stages the readings for deletion in batch.
func (c *CascadeDeleter) purgeMeterDescendants(ctx context.Context, log logging.Logger, batch remote.Batch, meterID string) error {
	readings, err := c.docs.Query(ctx, models.CollectionReadings, remote.Where(models.FieldMeterID, meterID))
	if err != nil {
		return common.Transient(fmt.Errorf("query readings of meter %s: %w", meterID, err))
	}

	for _, r := range readings {
		if ref := r.String(models.FieldPhotoURL); ref != "" {
			c.deleteBlob(ctx, log.With("reading_id", r.ID), ref)
		}
		batch.Delete(models.CollectionReadings, r.ID)
	}
	return nil
}

// deleteBlob never fails the cascade; an unparseable reference or a failed
// delete leaks the blob.
func (c *CascadeDeleter) deleteBlob(ctx context.Context, log logging.Logger, ref string) {
	blob, err := remote.ParseBlobRef(ref)
	if err != nil {
		c.obs.BlobDeleteFailed()
		log.Warn(ctx, "skipping blob with malformed reference", "photo_url", ref, "error", err)
		return
	}
	if !c.blobs.Owns(blob) {
		c.obs.BlobDeleteFailed()
		log.Warn(ctx, "skipping blob outside the configured store", "photo_url", ref,
			"error", common.Malformedf("blob reference %q names another bucket", ref))
		return
	}

	err = c.blobs.Delete(ctx, blob.Key)
	switch {
	case err == nil:
	case common.IsNotFound(err):
		log.Debug(ctx, "blob already deleted", "blob_path", blob.Key)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Debug(ctx, "blob delete interrupted", "blob_path", blob.Key, "error", err)
	default:
		c.obs.BlobDeleteFailed()
		log.Warn(ctx, "blob delete failed", "blob_path", blob.Key, "error", err)
	}
}
