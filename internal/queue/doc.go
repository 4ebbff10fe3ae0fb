// Package queue provides the durable local storage for the two offline work
// queues: pending uploads (offline_uploads) and pending deletions
// (pending_deletions).
//
// # Overview
//
// The package defines a Store interface with pure data access (no business
// logic) and a SQLite-backed implementation (SQLiteStore). Listings are
// snapshot reads in insertion order (FIFO by the AUTOINCREMENT id). Removal
// is idempotent: removing an id that is already gone is not an error, which
// absorbs double-completion races between reconciler runs.
//
// # Errors
//
// Writes that fail because the device is out of space surface as
// common.ErrStorageFull. A photo path that is already owned by another queue
// entry is rejected with common.ErrValidation. GetUpload returns
// common.ErrorNotFound for unknown ids.
//
// # Concurrency
//
// The SQLite pool is limited to one connection (see dbx.OpenSQLite), so all
// statements are serialized; the reconcilers rely on single-writer access
// per queue and need no further locking.
//
// Typical Usage
//
//	db, _ := queue.Open(ctx, "meterkeeper.db")
//	store := queue.NewSQLiteStore(db)
//	id, _ := store.EnqueueUpload(ctx, &models.QueuedUpload{...})
//	up, _ := store.GetUpload(ctx, id)
//	_ = store.RemoveUpload(ctx, id)
package queue
