package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Cascader deletes one entity and its descendants remotely.
type Cascader interface {
	Delete(ctx context.Context, kind models.EntityKind, ownerID, entityID string) error
}

// DeletionReport summarises one pass over the deletion queue.
type DeletionReport struct {
	// Processed holds the ids removed from the queue, in order.
	Processed []int64
	// FailedID is the entry that stopped the pass, or 0.
	FailedID int64
	// Remaining is the number of entries left queued from the snapshot.
	Remaining int
	// Rejected holds entries dropped because they can never succeed, such
	// as a target owned by another user.
	Rejected []int64
	// Requeued holds entries whose cascade committed but which were
	// requested again meanwhile; they stay queued for the next pass.
	Requeued []int64
}

// DeletionReconciler drains the deletion queue in FIFO order.
type DeletionReconciler struct {
	queue   queue.Store
	cascade Cascader
	log     logging.Logger
	options
}

func NewDeletionReconciler(q queue.Store, cascade Cascader, log logging.Logger, opts ...Option) *DeletionReconciler {
	return &DeletionReconciler{
		queue:   q,
		cascade: cascade,
		log:     log.With("module", "deletion_reconciler"),
		options: newOptions(opts),
	}
}

// Run processes a snapshot of the queue. Each entry is removed only after
// its cascade committed. The pass stops at the first failure: that entry
// and all later ones stay queued, and the returned error matches
// common.ErrTransient. Entries rejected with common.ErrValidation are
// dropped and the pass continues.
func (r *DeletionReconciler) Run(ctx context.Context) (report DeletionReport, err error) {
	ctx, span := r.tracer.Start(ctx, "DeletionReconciler.Run")
	defer func() {
		span.SetAttributes(
			attribute.Int("deletions.processed", len(report.Processed)),
			attribute.Int("deletions.remaining", report.Remaining),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	pending, err := r.queue.ListDeletions(ctx)
	if err != nil {
		return report, fmt.Errorf("list deletions: %w", err)
	}

	for i, d := range pending {
		report.Remaining = len(pending) - i

		if err := ctx.Err(); err != nil {
			return report, common.Transient(err)
		}

		err := r.cascade.Delete(ctx, d.EntityKind, d.OwnerID, d.EntityID)
		rejected := errors.Is(err, common.ErrValidation)
		if err != nil && !rejected {
			report.FailedID = d.ID
			r.log.Error(ctx, "cascade failed, stopping pass",
				"deletion_id", d.ID, "kind", d.EntityKind, "entity_id", d.EntityID,
				"remaining", report.Remaining, "error", err)
			return report, common.Transient(fmt.Errorf("deletion %d (%s %s): %w", d.ID, d.EntityKind, d.EntityID, err))
		}

		removed, rerr := r.queue.RemoveDeletion(ctx, d)
		if rerr != nil {
			report.FailedID = d.ID
			r.log.Error(ctx, "entry not removed", "deletion_id", d.ID, "error", rerr)
			return report, common.Transient(fmt.Errorf("remove deletion %d: %w", d.ID, rerr))
		}

		switch {
		case !removed:
			report.Requeued = append(report.Requeued, d.ID)
			r.log.Info(ctx, "deletion requested again during pass, kept", "deletion_id", d.ID)
		case rejected:
			report.Rejected = append(report.Rejected, d.ID)
			r.log.Error(ctx, "deletion rejected, dropped from queue",
				"deletion_id", d.ID, "kind", d.EntityKind, "owner_id", d.OwnerID, "entity_id", d.EntityID, "error", err)
		default:
			report.Processed = append(report.Processed, d.ID)
			r.log.Info(ctx, "deletion completed", "deletion_id", d.ID, "kind", d.EntityKind, "entity_id", d.EntityID)
		}
	}

	report.Remaining = len(report.Requeued)
	return report, nil
}
