// Package gateway wraps every content mutation and read. Online requests go
// to the server; offline (or network-failed) requests are diverted into the
// local store and the sync queue, and answered with a synthetic success so
// calling UI paths stay alive.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/client/device"
	"github.com/dmitrijs2005/syncbox/internal/client/queue"
	"github.com/dmitrijs2005/syncbox/internal/client/store"
	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/logging"
)

// CacheCollection is the local collection caching online collection reads.
const CacheCollection = "userCache"

// Dispatcher performs the real network call. Implemented by api.Client.
type Dispatcher interface {
	Do(ctx context.Context, method, path string, payload json.RawMessage) (json.RawMessage, error)
	Ping(ctx context.Context) error
}

type Gateway struct {
	dispatch Dispatcher
	records  *store.RecordRepository
	queue    *queue.Manager
	device   *device.Manager
	logger   logging.Logger
	online   atomic.Bool
	now      func() time.Time
}

func New(d Dispatcher, records *store.RecordRepository, q *queue.Manager, dev *device.Manager, l logging.Logger) *Gateway {
	g := &Gateway{
		dispatch: d,
		records:  records,
		queue:    q,
		device:   dev,
		logger:   l.With("module", "gateway"),
		now:      time.Now,
	}
	g.online.Store(true)
	return g
}

// WithClock overrides the time source, for tests.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// Online reports the last known connectivity state.
func (g *Gateway) Online() bool {
	return g.online.Load()
}

// SetOnline updates the connectivity state (driven by the watcher or by a
// network-level failure).
func (g *Gateway) SetOnline(v bool) {
	if g.online.Swap(v) != v {
		state := "offline"
		if v {
			state = "online"
		}
		g.logger.Info(context.Background(), "connectivity changed", "state", state)
	}
}

// mapPath resolves a content path like /api/notes or /api/notes/n-1 to an
// entity type and an optional trailing id.
func mapPath(path string) (entity changes.EntityType, entityID string, ok bool) {
	rest, found := strings.CutPrefix(path, "/api/")
	if !found {
		return "", "", false
	}
	collection, id, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	entity, ok = changes.EntityForCollection(collection)
	if !ok || strings.Contains(id, "/") {
		return "", "", false
	}
	return entity, id, true
}

func operationFor(method string) (changes.Operation, bool) {
	switch method {
	case http.MethodPost:
		return changes.OpCreate, true
	case http.MethodPut, http.MethodPatch:
		return changes.OpUpdate, true
	case http.MethodDelete:
		return changes.OpDelete, true
	default:
		return "", false
	}
}

// Do intercepts one content request. GET requests take the read path; all
// other verbs are mutations.
func (g *Gateway) Do(ctx context.Context, method, path string, payload json.RawMessage) (json.RawMessage, error) {
	if method == http.MethodGet {
		return g.read(ctx, path)
	}
	return g.write(ctx, method, path, payload)
}

func (g *Gateway) write(ctx context.Context, method, path string, payload json.RawMessage) (json.RawMessage, error) {
	op, ok := operationFor(method)
	if !ok {
		return nil, fmt.Errorf("%w: method %s", common.ErrValidation, method)
	}

	// The client id is canonical end-to-end: inject it before dispatch so the
	// server stores the same id the local mirror and change log will use.
	if op == changes.OpCreate {
		if _, _, mapped := mapPath(path); mapped {
			payload, _ = ensureEntityID(payload, "")
		}
	}

	if g.Online() {
		body, err := g.dispatch.Do(ctx, method, path, payload)
		if err == nil {
			g.afterOnlineWrite(ctx, path, op, payload)
			return body, nil
		}
		if !errors.Is(err, common.ErrConnectivityUnavailable) {
			return nil, err
		}
		// network-level failure: divert once, not recursively
		g.SetOnline(false)
	}

	return g.divert(ctx, path, op, payload)
}

// afterOnlineWrite mirrors a successful online mutation into the local store
// and the local change log, so cross-device reconciliation sees online writes
// too.
func (g *Gateway) afterOnlineWrite(ctx context.Context, path string, op changes.Operation, payload json.RawMessage) {
	entity, entityID, ok := mapPath(path)
	if !ok {
		return
	}
	collection, _ := changes.CollectionFor(entity)
	ts := g.now().UnixMilli()

	if op == changes.OpCreate {
		payload, entityID = ensureEntityID(payload, entityID)
	}
	if entityID == "" {
		return
	}

	switch op {
	case changes.OpDelete:
		if err := g.records.Remove(ctx, collection, entityID); err != nil {
			g.logger.Warn(ctx, "local mirror failed", "error", err)
			return
		}
	default:
		rec := &store.Record{Collection: collection, Key: entityID, Payload: payload, LastModified: ts}
		if err := g.records.Put(ctx, rec); err != nil {
			g.logger.Warn(ctx, "local mirror failed", "error", err)
			return
		}
	}

	if _, err := g.device.RecordChange(ctx, entity, entityID, op, payload); err != nil {
		g.logger.Warn(ctx, "change log append failed", "error", err)
	}
}

// divert queues the mutation locally and answers with a synthetic success.
func (g *Gateway) divert(ctx context.Context, path string, op changes.Operation, payload json.RawMessage) (json.RawMessage, error) {
	entity, entityID, ok := mapPath(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedOfflineOperation, path)
	}

	collection, _ := changes.CollectionFor(entity)
	ts := g.now().UnixMilli()

	if op == changes.OpCreate {
		payload, entityID = ensureEntityID(payload, entityID)
	}
	if entityID == "" {
		return nil, fmt.Errorf("%w: missing entity id", common.ErrValidation)
	}

	if _, err := g.queue.Enqueue(ctx, entity, op, entityID, payload); err != nil {
		return nil, err
	}

	switch op {
	case changes.OpDelete:
		if err := g.records.Remove(ctx, collection, entityID); err != nil {
			g.logger.Warn(ctx, "local delete failed", "error", err)
		}
	default:
		rec := &store.Record{
			Collection:   collection,
			Key:          entityID,
			Payload:      payload,
			Offline:      true,
			LastModified: ts,
		}
		if err := g.records.Put(ctx, rec); err != nil {
			g.logger.Warn(ctx, "local upsert failed", "error", err)
		}
	}

	if _, err := g.device.RecordChange(ctx, entity, entityID, op, payload); err != nil {
		g.logger.Warn(ctx, "change log append failed", "error", err)
	}

	return syntheticResponse(entityID, payload, ts)
}

// read serves content reads. Online reads are cached per collection; offline
// reads come from the local store. Unmapped offline reads return an empty
// result rather than erroring.
func (g *Gateway) read(ctx context.Context, path string) (json.RawMessage, error) {
	if g.Online() {
		body, err := g.dispatch.Do(ctx, http.MethodGet, path, nil)
		if err == nil {
			g.cacheRead(ctx, path, body)
			return body, nil
		}
		if !errors.Is(err, common.ErrConnectivityUnavailable) {
			return nil, err
		}
		g.SetOnline(false)
	}

	entity, entityID, ok := mapPath(path)
	if !ok {
		return json.RawMessage(`[]`), nil
	}
	collection, _ := changes.CollectionFor(entity)

	if entityID == "" {
		recs, err := g.records.GetAll(ctx, collection)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			// nothing mirrored locally; serve the last cached online read if
			// one exists
			if cached, err := g.CachedView(ctx, collection); err == nil {
				return cached, nil
			}
		}
		items := make([]json.RawMessage, 0, len(recs))
		for _, r := range recs {
			items = append(items, annotate(r))
		}
		return json.Marshal(items)
	}

	rec, err := g.records.Get(ctx, collection, entityID)
	if err != nil {
		return nil, err
	}
	return annotate(*rec), nil
}

func (g *Gateway) cacheRead(ctx context.Context, path string, body json.RawMessage) {
	entity, entityID, ok := mapPath(path)
	if !ok || entityID != "" {
		return
	}
	collection, _ := changes.CollectionFor(entity)
	rec := &store.Record{
		Collection:   CacheCollection,
		Key:          collection,
		Payload:      body,
		LastModified: g.now().UnixMilli(),
	}
	if err := g.records.Put(ctx, rec); err != nil {
		g.logger.Warn(ctx, "view cache write failed", "error", err)
	}
}

// CachedView returns the last cached online read for an entity collection,
// or common.ErrNotFound.
func (g *Gateway) CachedView(ctx context.Context, collection string) (json.RawMessage, error) {
	rec, err := g.records.Get(ctx, CacheCollection, collection)
	if err != nil {
		return nil, err
	}
	return rec.Payload, nil
}

// ensureEntityID makes sure a create payload carries a client-generated id
// and returns it. Client ids are canonical end-to-end, so no temp-id
// reconciliation is needed after a queued create succeeds.
func ensureEntityID(payload json.RawMessage, entityID string) (json.RawMessage, string) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload, entityID
	}
	if raw, ok := obj["id"]; ok {
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return payload, id
		}
	}
	if entityID == "" {
		entityID = uuid.NewString()
	}
	idJSON, _ := json.Marshal(entityID)
	obj["id"] = idJSON
	merged, err := json.Marshal(obj)
	if err != nil {
		return payload, entityID
	}
	return merged, entityID
}

// syntheticResponse echoes the payload with the offline markers so callers
// proceed optimistically.
func syntheticResponse(entityID string, payload json.RawMessage, ts int64) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil {
			obj = map[string]json.RawMessage{}
		}
	}
	idJSON, _ := json.Marshal(entityID)
	tsJSON, _ := json.Marshal(ts)
	obj["id"] = idJSON
	obj["_offline"] = json.RawMessage(`true`)
	obj["_lastModified"] = tsJSON
	return json.Marshal(obj)
}

// annotate merges the store flags into the returned payload.
func annotate(r store.Record) json.RawMessage {
	obj := map[string]json.RawMessage{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &obj); err != nil {
			return r.Payload
		}
	}
	idJSON, _ := json.Marshal(r.Key)
	obj["id"] = idJSON
	if r.Offline {
		obj["_offline"] = json.RawMessage(`true`)
	}
	if r.LastModified > 0 {
		tsJSON, _ := json.Marshal(r.LastModified)
		obj["_lastModified"] = tsJSON
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return r.Payload
	}
	return out
}
