// Package remote defines the contracts of the authoritative remote stores:
// a document store with atomic batches and a blob store for photos.
//
// Implementations live in subpackages (postgres, s3blob, memory). Missing
// documents or blobs are reported with common.ErrorNotFound; deletes of
// missing items succeed.
package remote

import (
	"context"
)

// Document is a remote record: an id plus schemaless fields.
type Document struct {
	ID     string
	Fields map[string]any
}

// String returns the string field name or "" when absent or not a string.
func (d Document) String(name string) string {
	s, _ := d.Fields[name].(string)
	return s
}

// Filter selects documents whose Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Where is shorthand for an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// DocumentStore is the remote document store.
type DocumentStore interface {
	// Get returns the document or common.ErrorNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Set creates or replaces the document with the given id.
	Set(ctx context.Context, collection, id string, fields map[string]any) error

	// Add creates a document under a store-assigned id.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Delete removes the document. Missing documents are not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query returns all documents of the collection matching f.
	Query(ctx context.Context, collection string, f Filter) ([]Document, error)

	// Batch starts an empty atomic batch.
	Batch() Batch
}

// Batch stages writes that commit together or not at all.
type Batch interface {
	Set(collection, id string, fields map[string]any)
	Delete(collection, id string)

	// Len is the number of staged operations.
	Len() int

	// Commit applies all staged operations atomically. A batch must not be
	// reused after Commit.
	Commit(ctx context.Context) error
}

// BlobStore is the remote binary store.
type BlobStore interface {
	// Put uploads localFile under path and returns a stable reference to it.
	Put(ctx context.Context, path, localFile string) (string, error)

	// Delete removes the blob at path. Missing blobs may be reported with
	// common.ErrorNotFound; callers treat that as success.
	Delete(ctx context.Context, path string) error

	// Owns reports whether ref points into this store, i.e. whether
	// Delete(ref.Key) would remove the blob ref names.
	Owns(ref BlobRef) bool
}

// Pinger reports whether the remote side is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type serverTimestamp struct{}

// ServerTimestamp is a field value replaced by the store's own clock at
// write time.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}
