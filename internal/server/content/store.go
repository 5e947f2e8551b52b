// Package content is the delivery target for queued mutations: a per-user,
// in-memory entity store behind the /api/{collection} endpoints. It stands in
// for the real content services, which live outside the sync core.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/common"
)

type Store struct {
	mu sync.Mutex
	// user -> entity type -> id -> payload
	data map[string]map[changes.EntityType]map[string]json.RawMessage
}

func NewStore() *Store {
	return &Store{data: make(map[string]map[changes.EntityType]map[string]json.RawMessage)}
}

func (s *Store) bucket(userID string, entity changes.EntityType) map[string]json.RawMessage {
	u, ok := s.data[userID]
	if !ok {
		u = make(map[changes.EntityType]map[string]json.RawMessage)
		s.data[userID] = u
	}
	b, ok := u[entity]
	if !ok {
		b = make(map[string]json.RawMessage)
		u[entity] = b
	}
	return b
}

// Upsert stores an entity, deriving the id from the payload's "id" field or
// generating one. Create and update share this path so a replayed queued
// create cannot fail or duplicate.
func (s *Store) Upsert(ctx context.Context, userID string, entity changes.EntityType, id string, payload json.RawMessage) (string, json.RawMessage, error) {
	if err := changes.ValidatePayload(entity, payload); err != nil {
		return "", nil, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", nil, fmt.Errorf("%w: payload is not a JSON object", common.ErrValidation)
	}
	if id == "" {
		if raw, ok := obj["id"]; ok {
			_ = json.Unmarshal(raw, &id)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	idJSON, _ := json.Marshal(id)
	obj["id"] = idJSON
	stored, err := json.Marshal(obj)
	if err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(userID, entity)[id] = stored
	return id, stored, nil
}

// Delete removes an entity. Deleting an unknown id is not an error, so
// replayed queued deletes stay idempotent.
func (s *Store) Delete(ctx context.Context, userID string, entity changes.EntityType, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bucket(userID, entity), id)
}

// Get returns one entity or common.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string, entity changes.EntityType, id string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.bucket(userID, entity)[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return payload, nil
}

// List returns all entities of one type for a user.
func (s *Store) List(ctx context.Context, userID string, entity changes.EntityType) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(userID, entity)
	out := make([]json.RawMessage, 0, len(b))
	for _, p := range b {
		out = append(out, p)
	}
	return out
}
