// Package services holds the offline-first core: the Enqueue API that
// records work locally, and the reconcilers that replay it against the
// remote stores.
//
// The local queue is always updated last. A queued upload or deletion is
// removed only after its remote effect has committed, so a crash at any
// point leaves the work queued for the next run.
package services
