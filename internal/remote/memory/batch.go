package memory

import (
	"context"
	"errors"
	"maps"

	"github.com/dmitrijs2005/meterkeeper/internal/remote"
)

type batchOp struct {
	collection string
	id         string
	fields     map[string]any
	del        bool
}

type batch struct {
	s         *Store
	ops       []batchOp
	committed bool
}

var errBatchReused = errors.New("batch already committed")

func (s *Store) Batch() remote.Batch {
	return &batch{s: s}
}

func (b *batch) Set(collection, id string, fields map[string]any) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, fields: maps.Clone(fields)})
}

func (b *batch) Delete(collection, id string) {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, del: true})
}

func (b *batch) Len() int { return len(b.ops) }

// Commit applies every staged op under one lock; an injected failure
// leaves the store untouched.
func (b *batch) Commit(ctx context.Context) error {
	if b.committed {
		return errBatchReused
	}

	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.enter(OpCommit, ""); err != nil {
		return err
	}

	for _, op := range b.ops {
		if op.del {
			delete(s.docs[op.collection], op.id)
			continue
		}
		s.setLocked(op.collection, op.id, op.fields)
	}
	b.committed = true
	return nil
}
