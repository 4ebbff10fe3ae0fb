// Package memory is an in-process remote: documents, blobs and an atomic
// batch behind one mutex, with hooks to inject failures per operation.
// It backs the reconciler tests and `--remote memory` dry runs.
package memory

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"github.com/google/uuid"
)

// Op names a remote operation for fault injection and call recording.
type Op string

const (
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpAdd        Op = "add"
	OpDelete     Op = "delete"
	OpQuery      Op = "query"
	OpCommit     Op = "commit"
	OpBlobPut    Op = "blob_put"
	OpBlobDelete Op = "blob_delete"
	OpPing       Op = "ping"
)

// Call is one recorded operation. Target is "collection/id", the
// collection for queries, the blob path for blob operations.
type Call struct {
	Op     Op
	Target string
}

// Hook is consulted before every operation; a non-nil error fails it
// without any state change.
type Hook func(op Op, target string) error

const scheme = "mem"

type Store struct {
	mu     sync.Mutex
	bucket string
	now    func() time.Time
	docs   map[string]map[string]map[string]any
	blobs  map[string][]byte
	calls  []Call
	hook   Hook
	once   map[Op][]error
}

var (
	_ remote.DocumentStore = (*Store)(nil)
	_ remote.Pinger        = (*Store)(nil)
	_ remote.BlobStore     = (*Blobs)(nil)
)

// New returns an empty store whose blob references use bucket.
func New(bucket string) *Store {
	return &Store{
		bucket: bucket,
		now:    func() time.Time { return time.Now().UTC() },
		docs:   make(map[string]map[string]map[string]any),
		blobs:  make(map[string][]byte),
		once:   make(map[Op][]error),
	}
}

// SetClock replaces the clock used for server timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetHook installs h; nil removes it.
func (s *Store) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// FailNext makes the next call of op fail with err. Calls queue up.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once[op] = append(s.once[op], err)
}

// Calls returns the operations seen so far, failed ones included.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CountCalls returns how many times op was invoked.
func (s *Store) CountCalls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// enter records the call and evaluates injected faults. Callers hold mu.
func (s *Store) enter(op Op, target string) error {
	s.calls = append(s.calls, Call{Op: op, Target: target})

	if q := s.once[op]; len(q) > 0 {
		err := q[0]
		s.once[op] = q[1:]
		return err
	}
	if s.hook != nil {
		return s.hook(op, target)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.enter(OpPing, "")
}

func (s *Store) Get(ctx context.Context, collection, id string) (*remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.enter(OpGet, collection+"/"+id); err != nil {
		return nil, err
	}

	fields, ok := s.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, common.ErrorNotFound)
	}
	return &remote.Document{ID: id, Fields: maps.Clone(fields)}, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.enter(OpSet, collection+"/"+id); err != nil {
		return err
	}
	s.setLocked(collection, id, fields)
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.enter(OpAdd, collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.setLocked(collection, id, fields)
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.enter(OpDelete, collection+"/"+id); err != nil {
		return err
	}
	delete(s.docs[collection], id)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, f remote.Filter) ([]remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.enter(OpQuery, collection); err != nil {
		return nil, err
	}

	var out []remote.Document
	for id, fields := range s.docs[collection] {
		if v, ok := fields[f.Field]; ok && reflect.DeepEqual(v, f.Value) {
			out = append(out, remote.Document{ID: id, Fields: maps.Clone(fields)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) setLocked(collection, id string, fields map[string]any) {
	stored := make(map[string]any, len(fields))
	for k, v := range fields {
		if remote.IsServerTimestamp(v) {
			v = s.now()
		}
		stored[k] = v
	}
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]map[string]any)
	}
	s.docs[collection][id] = stored
}

// Documents returns a snapshot of a collection ordered by id.
func (s *Store) Documents(collection string) []remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]remote.Document, 0, len(s.docs[collection]))
	for id, fields := range s.docs[collection] {
		out = append(out, remote.Document{ID: id, Fields: maps.Clone(fields)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Has reports whether the document exists.
func (s *Store) Has(collection, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[collection][id]
	return ok
}

// Seed writes a document without recording a call or consulting hooks.
func (s *Store) Seed(collection, id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(collection, id, fields)
}

