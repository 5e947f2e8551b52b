package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/dbx"
)

// Record is one entity record held in a named collection. Keys are strings;
// callers coerce numeric ids before storing.
type Record struct {
	Collection string
	Key        string
	Payload    json.RawMessage

	// Offline marks a record written while diverted from the network.
	Offline bool
	// LastModified is the unix-millis timestamp of the last local write.
	LastModified int64
	// Synced/SyncedAt are set when the record was applied from a pulled
	// remote change rather than written locally.
	Synced   bool
	SyncedAt int64
}

// RecordRepository implements the per-collection key/value contract over a
// DBTX (either *sql.DB or *sql.Tx).
type RecordRepository struct {
	db dbx.DBTX
}

func NewRecordRepository(db dbx.DBTX) *RecordRepository {
	return &RecordRepository{db: db}
}

// Put upserts a record by (collection, key).
func (r *RecordRepository) Put(ctx context.Context, rec *Record) error {
	query := `INSERT INTO records (collection, key, payload, offline, last_modified, synced, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(collection, key) DO UPDATE SET payload = excluded.payload,
				offline = excluded.offline,
				last_modified = excluded.last_modified,
				synced = excluded.synced,
				synced_at = excluded.synced_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.Collection, rec.Key, []byte(rec.Payload), rec.Offline, rec.LastModified, rec.Synced, rec.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// Get returns a single record or common.ErrNotFound.
func (r *RecordRepository) Get(ctx context.Context, collection, key string) (*Record, error) {
	query := `SELECT payload, offline, last_modified, synced, synced_at
			FROM records WHERE collection = ? AND key = ?`
	row := r.db.QueryRowContext(ctx, query, collection, key)

	rec := &Record{Collection: collection, Key: key}
	var payload []byte
	err := row.Scan(&payload, &rec.Offline, &rec.LastModified, &rec.Synced, &rec.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	rec.Payload = payload
	return rec, nil
}

// GetAll lists every record of a collection ordered by key.
func (r *RecordRepository) GetAll(ctx context.Context, collection string) ([]Record, error) {
	query := `SELECT key, payload, offline, last_modified, synced, synced_at
			FROM records WHERE collection = ? ORDER BY key`
	rows, err := r.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		item := Record{Collection: collection}
		var payload []byte
		if err := rows.Scan(&item.Key, &payload, &item.Offline, &item.LastModified, &item.Synced, &item.SyncedAt); err != nil {
			return nil, err
		}
		item.Payload = payload
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Remove deletes a record. Removing a missing key is not an error.
func (r *RecordRepository) Remove(ctx context.Context, collection, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	return nil
}
