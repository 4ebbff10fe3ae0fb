package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/meterkeeper/internal/dbx"
	"github.com/dmitrijs2005/meterkeeper/internal/queue/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies the embedded queue schema. It is idempotent.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate queue: %w", err)
	}
	return nil
}

// Open opens the queue database at dsn and brings its schema up to date.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := dbx.OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
