// Package ledger is the server-side change ledger: a per-user, append-only,
// bounded log of sync records. It is an explicit store object held in
// process memory; entries do not survive a server restart (a known
// reliability gap, accepted for now).
package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/logging"
)

// Status summarizes one user's ledger for a given device.
type Status struct {
	TotalRecords  int
	DeviceRecords int
}

// Store holds the per-user logs. Append-then-truncate runs under one lock,
// so concurrent batch uploads from the same user cannot lose each other's
// truncation.
type Store struct {
	mu     sync.Mutex
	byUser map[string][]changes.Record
	limit  int
	logger logging.Logger
}

func NewStore(l logging.Logger) *Store {
	return &Store{
		byUser: make(map[string][]changes.Record),
		limit:  common.MaxChangeLogEntries,
		logger: l.With("module", "ledger"),
	}
}

// WithLimit overrides the per-user bound, for tests.
func (s *Store) WithLimit(limit int) *Store {
	s.limit = limit
	return s
}

// Append accepts a batch of records for a user. Each record is validated;
// malformed ones are dropped (logged, not reported to the uploader).
// Records whose content-derived id is already present are skipped, making
// re-uploads after a retry idempotent. Returns how many records were
// accepted, counting duplicates as accepted.
func (s *Store) Append(ctx context.Context, userID string, recs []changes.Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.byUser[userID]
	seen := make(map[string]struct{}, len(log))
	for _, r := range log {
		seen[r.ID] = struct{}{}
	}

	accepted := 0
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			s.logger.Warn(ctx, "dropping malformed record",
				"user", userID, "record", r.ID, "cause", common.ErrLedgerWriteRejected, "error", err)
			continue
		}
		accepted++
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		log = append(log, r)
	}

	// bound the log: most recent by timestamp survive
	sort.SliceStable(log, func(i, j int) bool { return log[i].Timestamp > log[j].Timestamp })
	if len(log) > s.limit {
		log = log[:s.limit]
	}
	s.byUser[userID] = log

	return accepted
}

// Query returns records with timestamp > since, excluding those produced by
// the requesting device, ascending by timestamp.
func (s *Store) Query(ctx context.Context, userID string, since int64, excludeDevice string) []changes.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []changes.Record
	for _, r := range s.byUser[userID] {
		if r.Timestamp > since && r.DeviceID != excludeDevice {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Status reports ledger totals for a user and device.
func (s *Store) Status(ctx context.Context, userID, deviceID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{TotalRecords: len(s.byUser[userID])}
	for _, r := range s.byUser[userID] {
		if r.DeviceID == deviceID {
			st.DeviceRecords++
		}
	}
	return st
}

// Clear drops one user's ledger entirely (non-production use).
func (s *Store) Clear(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUser, userID)
}
