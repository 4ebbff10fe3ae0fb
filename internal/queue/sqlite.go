package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/dbx"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
)

// SQLiteStore implements Store on the local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a Store bound to db. The schema must already be
// migrated (see Open).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) EnqueueUpload(ctx context.Context, u *models.QueuedUpload) (int64, error) {
	query := `INSERT INTO offline_uploads (reading_id, owner_id, meter_id, local_blob_path, value, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		u.ReadingID, u.OwnerID, u.MeterID, u.LocalBlobPath, u.Value, u.CapturedAt.UTC().UnixMilli())
	if err != nil {
		return 0, mapWriteError("failed to insert upload", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get upload id: %w", err)
	}
	u.ID = id
	return id, nil
}

func (s *SQLiteStore) EnqueueDeletion(ctx context.Context, d *models.QueuedDeletion) (int64, error) {
	var id int64

	err := dbx.WithTx(ctx, s.db, func(tx dbx.DBTX) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM pending_deletions WHERE entity_kind=? AND owner_id=? AND entity_id=? ORDER BY id LIMIT 1`,
			string(d.EntityKind), d.OwnerID, d.EntityID).Scan(&id)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `UPDATE pending_deletions SET requests = requests + 1 WHERE id=?`, id); err != nil {
				return mapWriteError("failed to merge deletion", err)
			}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up deletion: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO pending_deletions (entity_kind, owner_id, entity_id) VALUES (?, ?, ?)`,
			string(d.EntityKind), d.OwnerID, d.EntityID)
		if err != nil {
			return mapWriteError("failed to insert deletion", err)
		}

		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get deletion id: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, mapWriteError("enqueue deletion", err)
	}

	d.ID = id
	return id, nil
}

func (s *SQLiteStore) ListUploads(ctx context.Context) ([]models.QueuedUpload, error) {
	query := `SELECT id, reading_id, owner_id, meter_id, local_blob_path, value, captured_at
		FROM offline_uploads ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	var result []models.QueuedUpload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) ListDeletions(ctx context.Context) ([]models.QueuedDeletion, error) {
	query := `SELECT id, entity_kind, owner_id, entity_id, requests FROM pending_deletions ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select deletions: %w", err)
	}
	defer rows.Close()

	var result []models.QueuedDeletion
	for rows.Next() {
		var (
			d    models.QueuedDeletion
			kind string
		)
		if err := rows.Scan(&d.ID, &kind, &d.OwnerID, &d.EntityID, &d.Requests); err != nil {
			return nil, err
		}
		d.EntityKind = models.EntityKind(kind)
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) GetUpload(ctx context.Context, id int64) (*models.QueuedUpload, error) {
	query := `SELECT id, reading_id, owner_id, meter_id, local_blob_path, value, captured_at
		FROM offline_uploads WHERE id=?`

	u, err := scanUpload(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("upload %d: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) RemoveUpload(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM offline_uploads WHERE id=?`, id); err != nil {
		return fmt.Errorf("failed to remove upload %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveDeletion(ctx context.Context, d models.QueuedDeletion) (bool, error) {
	removed := true

	err := dbx.WithTx(ctx, s.db, func(tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM pending_deletions WHERE id=? AND requests<=?`, d.ID, d.Requests)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil || n > 0 {
			return err
		}

		var requests int
		err = tx.QueryRowContext(ctx, `SELECT requests FROM pending_deletions WHERE id=?`, d.ID).Scan(&requests)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = false
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove deletion %d: %w", d.ID, err)
	}
	return removed, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM offline_uploads), (SELECT COUNT(*) FROM pending_deletions)`,
	).Scan(&c.Uploads, &c.Deletions)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count queues: %w", err)
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*models.QueuedUpload, error) {
	var (
		u          models.QueuedUpload
		capturedAt int64
	)
	if err := row.Scan(&u.ID, &u.ReadingID, &u.OwnerID, &u.MeterID, &u.LocalBlobPath, &u.Value, &capturedAt); err != nil {
		return nil, err
	}
	u.CapturedAt = time.UnixMilli(capturedAt).UTC()
	return &u, nil
}
