// Package store is the durable local store: per-collection entity records,
// a key/value metadata namespace, and the tables backing the sync queue and
// the local change log. Data survives process restarts; every consumer on a
// device shares one store.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/syncbox/internal/client/store/migrations"
)

// Store bundles the shared database handle with the repositories built on it.
type Store struct {
	db       *sql.DB
	Records  *RecordRepository
	Metadata *MetadataRepository
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if necessary) the local database at dsn and runs
// migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local db: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &Store{
		db:       db,
		Records:  NewRecordRepository(db),
		Metadata: NewMetadataRepository(db),
	}, nil
}

// DB exposes the underlying handle for repositories living in other packages
// (queue, device).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}
