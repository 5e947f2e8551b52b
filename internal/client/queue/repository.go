// Package queue holds the durable FIFO of pending mutations and the
// processor that drains it. Ordering by enqueue timestamp is the per-device
// delivery guarantee.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/dbx"
)

// Action is one pending local mutation awaiting delivery to the server.
type Action struct {
	ID         string
	EntityType changes.EntityType
	EntityID   string
	Operation  changes.Operation
	Timestamp  int64 // unix millis
	Payload    json.RawMessage
	Synced     bool
	Attempts   int
}

// Manager provides append/read/prune operations over the queue table.
type Manager struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewManager(db dbx.DBTX) *Manager {
	return &Manager{db: db, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Enqueue validates the payload and appends a new pending action.
func (m *Manager) Enqueue(ctx context.Context, entity changes.EntityType, op changes.Operation, entityID string, payload json.RawMessage) (*Action, error) {
	if !changes.KnownEntityType(entity) {
		return nil, fmt.Errorf("%w: unknown entity type %q", common.ErrValidation, entity)
	}
	if !changes.KnownOperation(op) {
		return nil, fmt.Errorf("%w: unknown operation %q", common.ErrValidation, op)
	}
	if op != changes.OpDelete {
		if err := changes.ValidatePayload(entity, payload); err != nil {
			return nil, err
		}
	}

	ts := m.now().UnixMilli()
	a := &Action{
		ID:         fmt.Sprintf("%s_%s_%d_%s", entity, op, ts, uuid.NewString()[:8]),
		EntityType: entity,
		EntityID:   entityID,
		Operation:  op,
		Timestamp:  ts,
		Payload:    payload,
	}

	query := `INSERT INTO queue (id, entity_type, entity_id, operation, ts, payload, synced, attempts)
			VALUES (?, ?, ?, ?, ?, ?, 0, 0)`
	_, err := m.db.ExecContext(ctx, query,
		a.ID, string(a.EntityType), a.EntityID, string(a.Operation), a.Timestamp, []byte(a.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue action: %w", err)
	}
	return a, nil
}

// ListPending returns all undelivered actions ordered ascending by timestamp
// (ties broken by id for a stable order).
func (m *Manager) ListPending(ctx context.Context) ([]*Action, error) {
	query := `SELECT id, entity_type, entity_id, operation, ts, payload, attempts
			FROM queue WHERE synced = 0 ORDER BY ts ASC, id ASC`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to select pending actions: %w", err)
	}
	defer rows.Close()

	var pending []*Action
	for rows.Next() {
		a := &Action{}
		var payload []byte
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Operation, &a.Timestamp, &payload, &a.Attempts); err != nil {
			return nil, err
		}
		a.Payload = payload
		pending = append(pending, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pending, nil
}

// CountPending reports how many actions still await delivery.
func (m *Manager) CountPending(ctx context.Context) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue WHERE synced = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return n, nil
}

// MarkSynced flips an action to delivered. Marking an already-delivered or
// missing action is not an error.
func (m *Manager) MarkSynced(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `UPDATE queue SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark action synced: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the delivery counter before an attempt.
func (m *Manager) IncrementAttempts(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `UPDATE queue SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}

// PruneSynced removes delivered actions older than the retention window.
// Pending actions are never pruned, regardless of age.
func (m *Manager) PruneSynced(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := m.now().Add(-retention).UnixMilli()
	res, err := m.db.ExecContext(ctx, `DELETE FROM queue WHERE synced = 1 AND ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
