package models

import (
	"encoding/json"
	"time"
)

// EntityKind names a document collection in the lifecycle store.
type EntityKind string

const (
	KindBooking    EntityKind = "booking"
	KindJob        EntityKind = "job"
	KindTechnician EntityKind = "technician"
)

// Change is one committed write to a lifecycle document, as seen by
// subscribers. Version increases by one on every write to the document.
type Change struct {
	Kind        EntityKind      `json:"kind"`
	ID          string          `json:"id"`
	Version     int64           `json:"version"`
	Document    json.RawMessage `json:"document"`
	CommittedAt time.Time       `json:"committed_at"`
}

// NewChange marshals doc into a Change.
func NewChange(kind EntityKind, id string, version int64, doc any, at time.Time) (Change, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return Change{}, err
	}
	return Change{Kind: kind, ID: id, Version: version, Document: raw, CommittedAt: at}, nil
}
