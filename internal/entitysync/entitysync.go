// Package entitysync keeps local, eventually-consistent copies of
// entities whose authoritative source lives in another service.
//
// The cache moves through four states:
//
//	PENDING  first reference, a correlated sync request is outstanding
//	SYNCED   a response or push update materialized the entity
//	STALE    the pending request timed out or the entry was invalidated;
//	         the next read re-requests
//	ABSENT   the source confirmed the entity does not exist; reads fail
//	         fast and never re-request
//
// Reads never block: a miss registers one pending request, publishes it,
// and returns a retryable condition. Callers that need the entity use
// Wait, which suspends on a channel until the response lands or the
// deadline fires.
package entitysync

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrEntitySyncing is retryable: a sync request is in flight.
	ErrEntitySyncing = errors.New("entitysync: entity sync in progress")
	// ErrEntityNotProvisioned is permanent: the source confirmed the
	// entity does not exist. Callers must stop retrying.
	ErrEntityNotProvisioned = errors.New("entitysync: entity not provisioned upstream")
	// ErrSyncTimeout is retryable: no response arrived before the deadline.
	ErrSyncTimeout = errors.New("entitysync: sync request timed out")

	ErrNotFound = errors.New("entitysync: entity not cached")
)

// SyncState is a cache entry's lifecycle state.
type SyncState string

const (
	StateSynced  SyncState = "SYNCED"
	StatePending SyncState = "PENDING"
	StateStale   SyncState = "STALE"
	StateAbsent  SyncState = "ABSENT"
)

// Entity is one cached copy of a remotely-owned record.
type Entity struct {
	ID            string          `json:"id"`
	Domain        string          `json:"domain"`
	SourceVersion time.Time       `json:"sourceVersion"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	SyncState     SyncState       `json:"syncState"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
