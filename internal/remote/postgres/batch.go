package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
)

const (
	commitAttempts = 3
	commitBackoff  = 50 * time.Millisecond
)

var errBatchCommitted = errors.New("batch already committed")

type op struct {
	collection string
	id         string
	fields     map[string]any
	del        bool
}

type batch struct {
	s         *Store
	ops       []op
	committed bool
}

func (s *Store) Batch() remote.Batch {
	return &batch{s: s}
}

func (b *batch) Set(collection, id string, fields map[string]any) {
	b.ops = append(b.ops, op{collection: collection, id: id, fields: fields})
}

func (b *batch) Delete(collection, id string) {
	b.ops = append(b.ops, op{collection: collection, id: id, del: true})
}

func (b *batch) Len() int { return len(b.ops) }

// Commit sends the staged statements as one pgx.Batch inside a transaction.
// Serialization failures and deadlocks are retried a few times before the
// error is returned.
func (b *batch) Commit(ctx context.Context) error {
	if b.committed {
		return errBatchCommitted
	}
	if len(b.ops) == 0 {
		b.committed = true
		return nil
	}

	backoff := retry.WithMaxRetries(commitAttempts-1, retry.NewExponential(commitBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := pgx.BeginFunc(ctx, b.s.pool, func(tx pgx.Tx) error {
			return b.send(ctx, tx)
		})
		if isRetryablePGTxError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("commit batch of %d: %w", len(b.ops), err)
	}

	b.committed = true
	return nil
}

func (b *batch) send(ctx context.Context, tx pgx.Tx) error {
	pb := b.build()

	br := tx.SendBatch(ctx, pb)
	for i := range b.ops {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("batch op %d (%s/%s): %w", i, b.ops[i].collection, b.ops[i].id, err)
		}
	}
	return br.Close()
}

func (b *batch) build() *pgx.Batch {
	pb := &pgx.Batch{}
	for _, o := range b.ops {
		if o.del {
			pb.Queue(stmtDelete, o.collection, o.id)
			continue
		}
		body, stamped := splitFields(o.fields)
		pb.Queue(stmtUpsert, o.collection, o.id, body, stamped)
	}
	return pb
}
