package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/client/store"
	"github.com/dmitrijs2005/syncbox/internal/common"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s.DB())
}

func notePayload() json.RawMessage {
	return json.RawMessage(`{"content":"hello"}`)
}

func TestEnqueue_CreatesPendingAction(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	a, err := m.Enqueue(ctx, changes.EntityNote, changes.OpCreate, "n-1", notePayload())
	require.NoError(t, err)

	assert.Regexp(t, `^note_create_\d+_[0-9a-f-]{8}$`, a.ID)
	assert.Equal(t, 0, a.Attempts)
	assert.False(t, a.Synced)

	pending, err := m.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, "n-1", pending[0].EntityID)
}

func TestEnqueue_RejectsInvalidInput(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, changes.EntityType("widget"), changes.OpCreate, "w-1", notePayload())
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = m.Enqueue(ctx, changes.EntityNote, changes.Operation("rename"), "n-1", notePayload())
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = m.Enqueue(ctx, changes.EntityNote, changes.OpCreate, "n-1", json.RawMessage(`{"title":"no content"}`))
	assert.ErrorIs(t, err, common.ErrValidation)

	// delete needs no payload
	_, err = m.Enqueue(ctx, changes.EntityNote, changes.OpDelete, "n-1", nil)
	assert.NoError(t, err)
}

func TestListPending_OrdersByTimestamp(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	ts := time.UnixMilli(1000)
	m.WithClock(func() time.Time { return ts })

	first, err := m.Enqueue(ctx, changes.EntityNote, changes.OpCreate, "n-1", notePayload())
	require.NoError(t, err)

	ts = time.UnixMilli(3000)
	third, err := m.Enqueue(ctx, changes.EntityPost, changes.OpCreate, "p-1", json.RawMessage(`{"content":"x"}`))
	require.NoError(t, err)

	ts = time.UnixMilli(2000)
	second, err := m.Enqueue(ctx, changes.EntityNote, changes.OpUpdate, "n-1", notePayload())
	require.NoError(t, err)

	pending, err := m.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID},
		[]string{pending[0].ID, pending[1].ID, pending[2].ID})
}

func TestMarkSynced_IsIdempotent(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	a, err := m.Enqueue(ctx, changes.EntityNote, changes.OpCreate, "n-1", notePayload())
	require.NoError(t, err)

	require.NoError(t, m.MarkSynced(ctx, a.ID))
	require.NoError(t, m.MarkSynced(ctx, a.ID))
	require.NoError(t, m.MarkSynced(ctx, "missing"))

	pending, err := m.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPruneSynced_NeverRemovesPending(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	ts := time.UnixMilli(0)
	m.WithClock(func() time.Time { return ts })

	old, err := m.Enqueue(ctx, changes.EntityNote, changes.OpCreate, "n-1", notePayload())
	require.NoError(t, err)
	stale, err := m.Enqueue(ctx, changes.EntityNote, changes.OpUpdate, "n-1", notePayload())
	require.NoError(t, err)
	require.NoError(t, m.MarkSynced(ctx, stale.ID))

	// jump well past the retention window
	ts = time.UnixMilli(0).Add(30 * 24 * time.Hour)

	removed, err := m.PruneSynced(ctx, common.DefaultQueueRetention)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// the ancient pending action survives
	pending, err := m.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, old.ID, pending[0].ID)
}

func TestPruneSynced_KeepsRecentSynced(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	a, err := m.Enqueue(ctx, changes.EntityNote, changes.OpCreate, "n-1", notePayload())
	require.NoError(t, err)
	require.NoError(t, m.MarkSynced(ctx, a.ID))

	removed, err := m.PruneSynced(ctx, common.DefaultQueueRetention)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestCountPending(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	n, err := m.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = m.Enqueue(ctx, changes.EntityNote, changes.OpCreate, "n-1", notePayload())
	require.NoError(t, err)

	n, err = m.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
