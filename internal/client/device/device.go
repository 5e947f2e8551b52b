// Package device tracks the stable per-installation identity, the sync
// cursors, and the bounded local change log.
package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/client/store"
	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/dbx"
)

const (
	metaDeviceID     = "deviceId"
	metaSyncMetadata = "syncMetadata"
)

// Metadata is the device's sync state. LastSyncTimestamp is the pull
// watermark: the server time up to which remote changes have been applied.
// LastPushTimestamp is the cursor of the last confirmed change-log upload.
// The two are tracked separately so that a local write or push never makes
// the device skip remote changes it has not seen.
type Metadata struct {
	DeviceID          string `json:"deviceId"`
	UserID            string `json:"userId"`
	LastSyncTimestamp int64  `json:"lastSyncTimestamp"`
	LastPushTimestamp int64  `json:"lastPushTimestamp"`
	SyncVersion       int    `json:"syncVersion"`
}

// Manager persists device identity and metadata and owns the sync_log table.
type Manager struct {
	meta *store.MetadataRepository
	db   dbx.DBTX
	now  func() time.Time
}

func NewManager(meta *store.MetadataRepository, db dbx.DBTX) *Manager {
	return &Manager{meta: meta, db: db, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// DeviceID returns the persisted device identifier, generating and storing
// one on first use. The id is stable for the lifetime of the local store.
func (m *Manager) DeviceID(ctx context.Context) (string, error) {
	v, err := m.meta.Get(ctx, metaDeviceID)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if len(v) > 0 {
		return string(v), nil
	}

	id := uuid.NewString()
	if err := m.meta.Set(ctx, metaDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}

// Metadata loads the stored sync metadata, initializing it on first use.
func (m *Manager) Metadata(ctx context.Context) (*Metadata, error) {
	id, err := m.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	v, err := m.meta.Get(ctx, metaSyncMetadata)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync metadata: %w", err)
	}
	md := &Metadata{DeviceID: id, SyncVersion: 1}
	if len(v) > 0 {
		if err := json.Unmarshal(v, md); err != nil {
			return nil, fmt.Errorf("failed to decode sync metadata: %w", err)
		}
		md.DeviceID = id
	}
	return md, nil
}

func (m *Manager) saveMetadata(ctx context.Context, md *Metadata) error {
	b, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode sync metadata: %w", err)
	}
	if err := m.meta.Set(ctx, metaSyncMetadata, b); err != nil {
		return fmt.Errorf("failed to persist sync metadata: %w", err)
	}
	return nil
}

// SetUserID records which user this installation belongs to.
func (m *Manager) SetUserID(ctx context.Context, userID string) error {
	md, err := m.Metadata(ctx)
	if err != nil {
		return err
	}
	md.UserID = userID
	return m.saveMetadata(ctx, md)
}

// LastSyncTimestamp returns the pull watermark in unix millis.
func (m *Manager) LastSyncTimestamp(ctx context.Context) (int64, error) {
	md, err := m.Metadata(ctx)
	if err != nil {
		return 0, err
	}
	return md.LastSyncTimestamp, nil
}

// AdvanceWatermark moves the pull watermark forward. Moves backward are
// ignored so a partial pull can never regress the cursor.
func (m *Manager) AdvanceWatermark(ctx context.Context, ts int64) error {
	md, err := m.Metadata(ctx)
	if err != nil {
		return err
	}
	if ts <= md.LastSyncTimestamp {
		return nil
	}
	md.LastSyncTimestamp = ts
	return m.saveMetadata(ctx, md)
}

// LastPushTimestamp returns the cursor of the last confirmed upload.
func (m *Manager) LastPushTimestamp(ctx context.Context) (int64, error) {
	md, err := m.Metadata(ctx)
	if err != nil {
		return 0, err
	}
	return md.LastPushTimestamp, nil
}

// AdvancePushCursor moves the push cursor forward after a confirmed upload.
func (m *Manager) AdvancePushCursor(ctx context.Context, ts int64) error {
	md, err := m.Metadata(ctx)
	if err != nil {
		return err
	}
	if ts <= md.LastPushTimestamp {
		return nil
	}
	md.LastPushTimestamp = ts
	return m.saveMetadata(ctx, md)
}

// RecordChange appends an entry to the bounded local change log. The log is
// trimmed to the most recent entries by timestamp. The pull watermark is not
// touched here: writing locally says nothing about being caught up with the
// server.
func (m *Manager) RecordChange(ctx context.Context, entity changes.EntityType, entityID string, op changes.Operation, payload json.RawMessage) (*changes.Record, error) {
	id, err := m.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	ts := m.now().UnixMilli()
	rec := &changes.Record{
		ID:         changes.RecordID(entity, entityID, op, ts, id),
		EntityType: entity,
		EntityID:   entityID,
		Operation:  op,
		Timestamp:  ts,
		Payload:    payload,
		DeviceID:   id,
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	query := `INSERT INTO sync_log (id, entity_type, entity_id, operation, ts, payload, device_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`
	_, err = m.db.ExecContext(ctx, query,
		rec.ID, string(rec.EntityType), rec.EntityID, string(rec.Operation), rec.Timestamp, []byte(rec.Payload), rec.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to append change log entry: %w", err)
	}

	if err := m.trimLog(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *Manager) trimLog(ctx context.Context) error {
	query := `DELETE FROM sync_log WHERE id NOT IN (
			SELECT id FROM sync_log ORDER BY ts DESC, id DESC LIMIT ?)`
	_, err := m.db.ExecContext(ctx, query, common.MaxChangeLogEntries)
	if err != nil {
		return fmt.Errorf("failed to trim change log: %w", err)
	}
	return nil
}

// ChangesSince returns local change-log entries strictly newer than ts,
// ascending by timestamp. The pusher uses this with the push cursor.
func (m *Manager) ChangesSince(ctx context.Context, ts int64) ([]changes.Record, error) {
	query := `SELECT id, entity_type, entity_id, operation, ts, payload, device_id
			FROM sync_log WHERE ts > ? ORDER BY ts ASC, id ASC`
	rows, err := m.db.QueryContext(ctx, query, ts)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to select change log entries: %w", err)
	}
	defer rows.Close()

	var result []changes.Record
	for rows.Next() {
		var rec changes.Record
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.EntityType, &rec.EntityID, &rec.Operation, &rec.Timestamp, &payload, &rec.DeviceID); err != nil {
			return nil, err
		}
		rec.Payload = payload
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// LogSize reports how many entries the local change log currently holds.
func (m *Manager) LogSize(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count change log entries: %w", err)
	}
	return n, nil
}
