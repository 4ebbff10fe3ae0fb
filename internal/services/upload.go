package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/filex"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// UploadReconciler makes one queued reading durable remotely.
type UploadReconciler struct {
	queue queue.Store
	docs  remote.DocumentStore
	blobs remote.BlobStore
	log   logging.Logger
	options
}

func NewUploadReconciler(q queue.Store, docs remote.DocumentStore, blobs remote.BlobStore, log logging.Logger, opts ...Option) *UploadReconciler {
	return &UploadReconciler{
		queue:   q,
		docs:    docs,
		blobs:   blobs,
		log:     log.With("module", "upload_reconciler"),
		options: newOptions(opts),
	}
}

// Run processes queue entry id to completion.
//
// The reading is written under the id fixed at enqueue time. If that
// document already exists the remote side is done and only the local entry
// and photo are removed, so a run interrupted after the remote write never
// uploads twice. Remote failures return an error matching
// common.ErrTransient and leave the entry and photo in place. Failures of
// the final local cleanup are logged, not returned.
func (r *UploadReconciler) Run(ctx context.Context, id int64) (outcome UploadOutcome, err error) {
	started := r.now()
	ctx, span := r.tracer.Start(ctx, "UploadReconciler.Run", trace.WithAttributes(attribute.Int64("upload.id", id)))
	defer func() {
		r.obs.UploadFinished(outcome, r.now().Sub(started))
		span.SetAttributes(attribute.String("upload.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	u, err := r.queue.GetUpload(ctx, id)
	if common.IsNotFound(err) {
		r.log.Debug(ctx, "upload no longer queued", "upload_id", id)
		return UploadNotQueued, nil
	}
	if err != nil {
		return UploadFailed, fmt.Errorf("load upload %d: %w", id, err)
	}

	log := r.log.With("upload_id", id, "reading_id", u.ReadingID, "meter_id", u.MeterID)

	_, err = r.docs.Get(ctx, models.CollectionReadings, u.ReadingID)
	switch {
	case err == nil:
		log.Info(ctx, "reading already stored, cleaning up")
		r.cleanup(ctx, log, u)
		return UploadAlreadyDone, nil
	case !common.IsNotFound(err):
		log.Warn(ctx, "reading lookup failed", "error", err)
		return UploadFailed, common.Transient(fmt.Errorf("lookup reading %s: %w", u.ReadingID, err))
	}

	blobPath := remote.BlobPath(u.OwnerID, u.MeterID, u.LocalBlobPath)
	ref, err := r.blobs.Put(ctx, blobPath, u.LocalBlobPath)
	if err != nil {
		log.Warn(ctx, "photo upload failed", "blob_path", blobPath, "error", err)
		return UploadFailed, common.Transient(fmt.Errorf("put blob %s: %w", blobPath, err))
	}

	err = r.docs.Set(ctx, models.CollectionReadings, u.ReadingID, map[string]any{
		models.FieldTimestamp:     remote.ServerTimestamp,
		models.FieldPhotoURL:      ref,
		models.FieldFinalValue:    u.Value,
		models.FieldMeterID:       u.MeterID,
		models.FieldUserID:        u.OwnerID,
		models.FieldEditedByAdmin: false,
	})
	if err != nil {
		log.Warn(ctx, "reading write failed", "error", err)
		return UploadFailed, common.Transient(fmt.Errorf("write reading %s: %w", u.ReadingID, err))
	}

	log.Info(ctx, "reading committed", "photo_url", ref)
	r.cleanup(ctx, log, u)
	return UploadCommitted, nil
}

// cleanup removes the queue entry, then the photo. Both steps are
// idempotent; a leftover photo is collected by the spool sweep.
func (r *UploadReconciler) cleanup(ctx context.Context, log logging.Logger, u *models.QueuedUpload) {
	if err := r.queue.RemoveUpload(ctx, u.ID); err != nil {
		r.obs.CleanupFailed()
		log.Warn(ctx, "failed to remove queue entry", "error", err)
		return
	}
	if err := filex.RemoveIfExists(u.LocalBlobPath); err != nil {
		r.obs.CleanupFailed()
		log.Warn(ctx, "failed to remove local photo", "path", u.LocalBlobPath, "error", err)
	}
}
