package queue

import (
	"context"

	"github.com/dmitrijs2005/meterkeeper/internal/models"
)

// Store describes the local persistence of queued work.
type Store interface {
	// EnqueueUpload inserts a new upload entry and returns its id.
	EnqueueUpload(ctx context.Context, u *models.QueuedUpload) (int64, error)

	// EnqueueDeletion inserts a deletion entry and returns its id. If an
	// entry for the same (kind, owner, entity) is already queued, its id is
	// returned and its request count is bumped instead.
	EnqueueDeletion(ctx context.Context, d *models.QueuedDeletion) (int64, error)

	// ListUploads returns all queued uploads, oldest first.
	ListUploads(ctx context.Context) ([]models.QueuedUpload, error)

	// ListDeletions returns all queued deletions, oldest first.
	ListDeletions(ctx context.Context) ([]models.QueuedDeletion, error)

	// GetUpload returns a single upload or common.ErrorNotFound.
	GetUpload(ctx context.Context, id int64) (*models.QueuedUpload, error)

	// RemoveUpload deletes an upload entry. Unknown ids are not an error.
	RemoveUpload(ctx context.Context, id int64) error

	// RemoveDeletion deletes d's entry unless it was requested again after
	// d was listed, in which case it is kept and removed is false. Unknown
	// ids are not an error.
	RemoveDeletion(ctx context.Context, d models.QueuedDeletion) (removed bool, err error)

	// Counts returns the number of pending entries in each queue.
	Counts(ctx context.Context) (Counts, error)
}

// Counts is the pending backlog of both queues.
type Counts struct {
	Uploads   int
	Deletions int
}
