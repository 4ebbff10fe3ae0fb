// Package postgres implements the remote document store on PostgreSQL.
//
// Every collection lives in one table keyed by (collection, id) with the
// document body in a JSONB column. Equality queries use JSONB containment so
// they are served by the GIN index. A batch is replayed inside a single
// transaction, retried on serialization failures and deadlocks.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	stmtGet = `SELECT data FROM documents WHERE collection = $1 AND id = $2`

	// $3 is the client-supplied body, $4 the names of fields stamped with
	// the server clock.
	stmtUpsert = `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb || (
			SELECT COALESCE(jsonb_object_agg(k, to_jsonb(now())), '{}'::jsonb)
			FROM unnest($4::text[]) AS k))
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	stmtDelete = `DELETE FROM documents WHERE collection = $1 AND id = $2`

	stmtQuery = `SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY id`
)

// Store is a remote.DocumentStore backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ remote.DocumentStore = (*Store)(nil)
	_ remote.Pinger        = (*Store)(nil)
)

// New wraps an existing pool. The schema must be migrated.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Get(ctx context.Context, collection, id string) (*remote.Document, error) {
	var data map[string]any
	err := s.pool.QueryRow(ctx, stmtGet, collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return &remote.Document{ID: id, Fields: data}, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	body, stamped := splitFields(fields)
	if _, err := s.pool.Exec(ctx, stmtUpsert, collection, id, body, stamped); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.pool.Exec(ctx, stmtDelete, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, f remote.Filter) ([]remote.Document, error) {
	rows, err := s.pool.Query(ctx, stmtQuery, collection, map[string]any{f.Field: f.Value})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (remote.Document, error) {
		var d remote.Document
		err := row.Scan(&d.ID, &d.Fields)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", collection, err)
	}
	return docs, nil
}

// splitFields separates ServerTimestamp placeholders from the JSON body.
func splitFields(fields map[string]any) (map[string]any, []string) {
	body := make(map[string]any, len(fields))
	stamped := []string{}
	for k, v := range fields {
		if remote.IsServerTimestamp(v) {
			stamped = append(stamped, k)
			continue
		}
		body[k] = v
	}
	return body, stamped
}

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	default:
		return false
	}
}
