// Package syncer orchestrates reconciliation with the server: pulling remote
// change-log entries and applying them locally, then draining the pending
// queue and uploading the local change log.
package syncer

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/client/device"
	"github.com/dmitrijs2005/syncbox/internal/client/gateway"
	"github.com/dmitrijs2005/syncbox/internal/client/queue"
	"github.com/dmitrijs2005/syncbox/internal/client/store"
	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/logging"
)

// API is the subset of the sync protocol the syncer needs. Implemented by
// api.Client.
type API interface {
	PullChanges(ctx context.Context, since int64, deviceID string) ([]changes.Record, error)
	PushChanges(ctx context.Context, recs []changes.Record, deviceID string) (*changes.PushResponse, error)
}

// RecordStore is the slice of the local store the syncer applies pulled
// changes through. Implemented by store.RecordRepository.
type RecordStore interface {
	Get(ctx context.Context, collection, key string) (*store.Record, error)
	Put(ctx context.Context, rec *store.Record) error
	Remove(ctx context.Context, collection, key string) error
}

// Result is the combined outcome of one pull-then-push cycle.
type Result struct {
	Success   bool
	Applied   int // remote changes applied locally
	Skipped   int // remote changes superseded by newer local state
	Pushed    int // local change-log entries uploaded
	Queue     *queue.Result
	Watermark int64
	Errors    []error
}

// Syncer runs pull-then-push cycles. Both Synchronize and ProcessQueue are
// single-flight per user+device: two concurrent triggers (connectivity event
// plus timer) share one drain instead of double-processing the queue.
type Syncer struct {
	api       API
	records   RecordStore
	device    *device.Manager
	processor *queue.Processor
	logger    logging.Logger

	mu    stdsync.Mutex
	group singleflight.Group
	now   func() time.Time
}

func New(api API, records RecordStore, dev *device.Manager, p *queue.Processor, l logging.Logger) *Syncer {
	return &Syncer{
		api:       api,
		records:   records,
		device:    dev,
		processor: p,
		logger:    l.With("module", "syncer"),
		now:       time.Now,
	}
}

// Synchronize runs one full cycle: (1) pull, (2) push. Duplicate concurrent
// calls for the same user+device coalesce into one run.
func (s *Syncer) Synchronize(ctx context.Context) (*Result, error) {
	md, err := s.device.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	key := md.UserID + ":" + md.DeviceID

	v, err, _ := s.group.Do(key, func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// ProcessQueue drains the pending queue without a pull, under the same guard
// as Synchronize.
func (s *Syncer) ProcessQueue(ctx context.Context) (*queue.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processor.Process(ctx)
}

func (s *Syncer) run(ctx context.Context) (*Result, error) {
	result := &Result{}

	if err := s.pull(ctx, result); err != nil {
		result.Errors = append(result.Errors, err)
	}
	if err := s.push(ctx, result); err != nil {
		result.Errors = append(result.Errors, err)
	}

	watermark, err := s.device.LastSyncTimestamp(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.Watermark = watermark
	result.Success = len(result.Errors) == 0 && (result.Queue == nil || result.Queue.Success)

	s.logger.Info(ctx, "sync cycle finished",
		"applied", result.Applied, "pushed", result.Pushed, "errors", len(result.Errors))
	return result, nil
}

// pull fetches remote records newer than the watermark and applies them.
// Application is best-effort and non-transactional: a mid-batch failure
// leaves earlier records applied, and the watermark is not advanced past the
// failure point.
func (s *Syncer) pull(ctx context.Context, result *Result) error {
	md, err := s.device.Metadata(ctx)
	if err != nil {
		return err
	}

	recs, err := s.api.PullChanges(ctx, md.LastSyncTimestamp, md.DeviceID)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	var maxApplied int64
	affected := map[changes.EntityType]struct{}{}

	for i := range recs {
		rec := &recs[i]
		if rec.DeviceID == md.DeviceID {
			// the server filters these out; never re-apply our own writes
			continue
		}
		applied, err := s.apply(ctx, rec)
		if err != nil {
			s.advanceAfterPull(ctx, maxApplied, affected, result)
			return fmt.Errorf("apply failed for record %s: %w", rec.ID, err)
		}
		if applied {
			result.Applied++
			affected[rec.EntityType] = struct{}{}
		} else {
			result.Skipped++
		}
		if rec.Timestamp > maxApplied {
			maxApplied = rec.Timestamp
		}
	}

	s.advanceAfterPull(ctx, maxApplied, affected, result)
	return nil
}

func (s *Syncer) advanceAfterPull(ctx context.Context, maxApplied int64, affected map[changes.EntityType]struct{}, result *Result) {
	if maxApplied > 0 {
		if err := s.device.AdvanceWatermark(ctx, maxApplied); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	for entity := range affected {
		collection, _ := changes.CollectionFor(entity)
		if err := s.records.Remove(ctx, gateway.CacheCollection, collection); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
}

// apply puts one remote change into the local store. Create/update use
// timestamp-compared last-write-wins: a remote change older than the local
// record's last modification is skipped. Re-applying the same record is a
// no-op state-wise, so replay is idempotent.
func (s *Syncer) apply(ctx context.Context, rec *changes.Record) (bool, error) {
	collection, ok := changes.CollectionFor(rec.EntityType)
	if !ok {
		// unknown entity types are skipped, not fatal
		return false, nil
	}

	switch rec.Operation {
	case changes.OpDelete:
		if err := s.records.Remove(ctx, collection, rec.EntityID); err != nil {
			return false, err
		}
		return true, nil
	case changes.OpCreate, changes.OpUpdate:
		local, err := s.records.Get(ctx, collection, rec.EntityID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return false, err
		}
		if err == nil && local.LastModified > rec.Timestamp {
			return false, nil
		}
		put := &store.Record{
			Collection:   collection,
			Key:          rec.EntityID,
			Payload:      rec.Payload,
			LastModified: rec.Timestamp,
			Synced:       true,
			SyncedAt:     s.now().UnixMilli(),
		}
		if err := s.records.Put(ctx, put); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// push drains the queue first, so pending intent reaches the server before
// the change-log upload, then uploads log entries newer than the push cursor
// as one batch.
func (s *Syncer) push(ctx context.Context, result *Result) error {
	qres, err := s.processor.Process(ctx)
	if err != nil {
		return err
	}
	result.Queue = qres
	result.Errors = append(result.Errors, qres.Errors...)

	md, err := s.device.Metadata(ctx)
	if err != nil {
		return err
	}

	recs, err := s.device.ChangesSince(ctx, md.LastPushTimestamp)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	resp, err := s.api.PushChanges(ctx, recs, md.DeviceID)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	result.Pushed = resp.RecordCount

	var maxTS int64
	for _, r := range recs {
		if r.Timestamp > maxTS {
			maxTS = r.Timestamp
		}
	}
	return s.device.AdvancePushCursor(ctx, maxTS)
}
