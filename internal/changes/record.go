// Package changes defines the change-log record exchanged between devices
// and the server, together with its validation rules and wire shapes.
package changes

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/syncbox/internal/common"
)

// EntityType classifies a unit of user content.
type EntityType string

const (
	EntityNote     EntityType = "note"
	EntityJournal  EntityType = "journal"
	EntityDocument EntityType = "document"
	EntityPost     EntityType = "post"
)

// Operation is the kind of mutation a record describes.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Record is one append-only change-log entry. Records are produced on every
// local write and uploaded in batches; the ID is content-derived so that a
// re-upload after a retry is idempotent on the server.
type Record struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Operation  Operation       `json:"operation"`
	Timestamp  int64           `json:"timestamp"` // unix millis
	Payload    json.RawMessage `json:"payload,omitempty"`
	DeviceID   string          `json:"deviceId"`
}

// RecordID derives the canonical id for a change-log entry.
func RecordID(entity EntityType, entityID string, op Operation, ts int64, deviceID string) string {
	return fmt.Sprintf("%s_%s_%s_%d_%s", entity, entityID, op, ts, deviceID)
}

// collections maps entity types to their local store collections.
var collections = map[EntityType]string{
	EntityNote:     "notes",
	EntityJournal:  "journals",
	EntityDocument: "documents",
	EntityPost:     "posts",
}

var entityByCollection = func() map[string]EntityType {
	m := make(map[string]EntityType, len(collections))
	for t, c := range collections {
		m[c] = t
	}
	return m
}()

// KnownEntityType reports whether t names a syncable content type.
func KnownEntityType(t EntityType) bool {
	_, ok := collections[t]
	return ok
}

// CollectionFor returns the local store collection for an entity type.
func CollectionFor(t EntityType) (string, bool) {
	c, ok := collections[t]
	return c, ok
}

// EntityForCollection maps a collection name back to its entity type.
func EntityForCollection(collection string) (EntityType, bool) {
	t, ok := entityByCollection[collection]
	return t, ok
}

// KnownOperation reports whether op is one of create/update/delete.
func KnownOperation(op Operation) bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// requiredPayloadField names the field each payload must carry on
// create/update. Deliberately minimal: the relational schema layer for each
// content type lives outside the sync core.
var requiredPayloadField = map[EntityType]string{
	EntityNote:     "content",
	EntityJournal:  "body",
	EntityDocument: "title",
	EntityPost:     "content",
}

// ValidatePayload checks that payload is a JSON object carrying the field
// required for the given entity type. Delete operations carry no payload and
// are not validated here.
func ValidatePayload(t EntityType, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", common.ErrValidation)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("%w: payload is not a JSON object", common.ErrValidation)
	}
	field, ok := requiredPayloadField[t]
	if !ok {
		return fmt.Errorf("%w: unknown entity type %q", common.ErrValidation, t)
	}
	if _, ok := obj[field]; !ok {
		return fmt.Errorf("%w: %s payload missing %q", common.ErrValidation, t, field)
	}
	return nil
}

// Validate checks a record's shape before it is accepted into a queue or a
// ledger. Payload schemas are enforced for create/update only.
func (r *Record) Validate() error {
	if !KnownEntityType(r.EntityType) {
		return fmt.Errorf("%w: unknown entity type %q", common.ErrValidation, r.EntityType)
	}
	if r.EntityID == "" {
		return fmt.Errorf("%w: missing entity id", common.ErrValidation)
	}
	if !KnownOperation(r.Operation) {
		return fmt.Errorf("%w: unknown operation %q", common.ErrValidation, r.Operation)
	}
	if r.Operation != OpDelete {
		if err := ValidatePayload(r.EntityType, r.Payload); err != nil {
			return err
		}
	}
	return nil
}
