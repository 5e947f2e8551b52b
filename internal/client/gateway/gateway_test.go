package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/client/device"
	"github.com/dmitrijs2005/syncbox/internal/client/queue"
	"github.com/dmitrijs2005/syncbox/internal/client/store"
	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/logging"
)

type fakeDispatcher struct {
	calls []string
	err   error
	body  json.RawMessage
}

func (f *fakeDispatcher) Do(ctx context.Context, method, path string, payload json.RawMessage) (json.RawMessage, error) {
	f.calls = append(f.calls, method+" "+path)
	if f.err != nil {
		return nil, f.err
	}
	if f.body != nil {
		return f.body, nil
	}
	return payload, nil
}

func (f *fakeDispatcher) Ping(ctx context.Context) error {
	return f.err
}

type testEnv struct {
	gateway  *Gateway
	dispatch *fakeDispatcher
	store    *store.Store
	queue    *queue.Manager
	device   *device.Manager
}

func setupGateway(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	q := queue.NewManager(s.DB())
	dev := device.NewManager(s.Metadata, s.DB())
	d := &fakeDispatcher{}
	l := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &testEnv{
		gateway:  New(d, s.Records, q, dev, l),
		dispatch: d,
		store:    s,
		queue:    q,
		device:   dev,
	}
}

func TestOfflineCreate_QueuesAndStoresLocally(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	env.gateway.SetOnline(false)

	resp, err := env.gateway.Do(ctx, http.MethodPost, "/api/notes", json.RawMessage(`{"content":"offline note"}`))
	require.NoError(t, err)
	assert.Empty(t, env.dispatch.calls, "no network call while offline")

	var out map[string]any
	require.NoError(t, json.Unmarshal(resp, &out))
	assert.Equal(t, true, out["_offline"])
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)

	pending, err := env.queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, changes.EntityNote, pending[0].EntityType)
	assert.Equal(t, changes.OpCreate, pending[0].Operation)
	assert.Equal(t, id, pending[0].EntityID)

	rec, err := env.store.Records.Get(ctx, "notes", id)
	require.NoError(t, err)
	assert.True(t, rec.Offline)
	assert.NotZero(t, rec.LastModified)

	// local change log got an entry too
	log, err := env.device.ChangesSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, changes.OpCreate, log[0].Operation)
}

func TestOfflineDelete_RemovesImmediately(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()

	require.NoError(t, env.store.Records.Put(ctx, &store.Record{Collection: "notes", Key: "n-7", Payload: json.RawMessage(`{"content":"x"}`)}))
	env.gateway.SetOnline(false)

	_, err := env.gateway.Do(ctx, http.MethodDelete, "/api/notes/n-7", nil)
	require.NoError(t, err)

	_, err = env.store.Records.Get(ctx, "notes", "n-7")
	assert.ErrorIs(t, err, common.ErrNotFound)

	pending, err := env.queue.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, changes.OpDelete, pending[0].Operation)
	assert.Equal(t, "n-7", pending[0].EntityID)
}

func TestOfflineUnknownPath_Fails(t *testing.T) {
	env := setupGateway(t)
	env.gateway.SetOnline(false)

	_, err := env.gateway.Do(context.Background(), http.MethodPost, "/api/widgets", json.RawMessage(`{"content":"x"}`))
	assert.ErrorIs(t, err, common.ErrUnsupportedOfflineOperation)
}

func TestNetworkFailure_FallsBackToOfflinePathOnce(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	env.dispatch.err = fmt.Errorf("%w: connection refused", common.ErrConnectivityUnavailable)

	resp, err := env.gateway.Do(ctx, http.MethodPost, "/api/notes", json.RawMessage(`{"content":"x"}`))
	require.NoError(t, err)
	require.Len(t, env.dispatch.calls, 1, "exactly one dispatch attempt before diverting")
	assert.NotNil(t, resp)

	assert.False(t, env.gateway.Online(), "network failure flips the connectivity flag")

	pending, err := env.queue.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestHTTPError_PropagatesWithoutDivert(t *testing.T) {
	env := setupGateway(t)
	env.dispatch.err = fmt.Errorf("http status 422: invalid")

	_, err := env.gateway.Do(context.Background(), http.MethodPost, "/api/notes", json.RawMessage(`{"content":"x"}`))
	require.Error(t, err)

	pending, perr := env.queue.ListPending(context.Background())
	require.NoError(t, perr)
	assert.Empty(t, pending, "server rejections are not diverted")
	assert.True(t, env.gateway.Online())
}

func TestOnlineWrite_MirrorsIntoLocalStoreAndLog(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()

	_, err := env.gateway.Do(ctx, http.MethodPut, "/api/journals/j-1", json.RawMessage(`{"body":"entry"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"PUT /api/journals/j-1"}, env.dispatch.calls)

	rec, err := env.store.Records.Get(ctx, "journals", "j-1")
	require.NoError(t, err)
	assert.False(t, rec.Offline)

	log, err := env.device.ChangesSince(ctx, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, changes.EntityJournal, log[0].EntityType)

	pending, err := env.queue.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "online writes are not queued")
}

func TestOfflineRead_CollectionAndSingle(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()

	require.NoError(t, env.store.Records.Put(ctx, &store.Record{Collection: "notes", Key: "a", Payload: json.RawMessage(`{"content":"1"}`), Offline: true, LastModified: 5}))
	require.NoError(t, env.store.Records.Put(ctx, &store.Record{Collection: "notes", Key: "b", Payload: json.RawMessage(`{"content":"2"}`)}))
	env.gateway.SetOnline(false)

	resp, err := env.gateway.Do(ctx, http.MethodGet, "/api/notes", nil)
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(resp, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0]["id"])
	assert.Equal(t, true, list[0]["_offline"])

	single, err := env.gateway.Do(ctx, http.MethodGet, "/api/notes/b", nil)
	require.NoError(t, err)
	var one map[string]any
	require.NoError(t, json.Unmarshal(single, &one))
	assert.Equal(t, "b", one["id"])
	assert.Equal(t, "2", one["content"])
}

func TestOfflineRead_UnmappedReturnsEmpty(t *testing.T) {
	env := setupGateway(t)
	env.gateway.SetOnline(false)

	resp, err := env.gateway.Do(context.Background(), http.MethodGet, "/api/widgets", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(resp))
}

func TestOnlineCollectionRead_IsCached(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	env.dispatch.body = json.RawMessage(`[{"id":"n-1","content":"x"}]`)

	_, err := env.gateway.Do(ctx, http.MethodGet, "/api/notes", nil)
	require.NoError(t, err)

	cached, err := env.gateway.CachedView(ctx, "notes")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"n-1","content":"x"}]`, string(cached))
}

func TestOfflineCollectionRead_ServesCachedViewWhenMirrorEmpty(t *testing.T) {
	env := setupGateway(t)
	ctx := context.Background()
	env.dispatch.body = json.RawMessage(`[{"id":"n-1","content":"x"}]`)

	// an online read populates the view cache but not the record mirror
	_, err := env.gateway.Do(ctx, http.MethodGet, "/api/notes", nil)
	require.NoError(t, err)

	env.gateway.SetOnline(false)

	resp, err := env.gateway.Do(ctx, http.MethodGet, "/api/notes", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"n-1","content":"x"}]`, string(resp))

	// once the mirror holds records, the live local view wins over the cache
	require.NoError(t, env.store.Records.Put(ctx, &store.Record{Collection: "notes", Key: "n-2", Payload: json.RawMessage(`{"content":"local"}`)}))

	resp, err = env.gateway.Do(ctx, http.MethodGet, "/api/notes", nil)
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(resp, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "n-2", list[0]["id"])
}
