package entitysync

import (
	"context"
	"sync"
	"time"
)

// CacheStore persists cached entity copies.
type CacheStore interface {
	Get(ctx context.Context, id string) (*Entity, error)
	// UpsertIfNewer writes the entity unless the cached copy carries a
	// newer sourceVersion. Returns whether the write was applied; a
	// rejected out-of-order update is not an error.
	UpsertIfNewer(ctx context.Context, e *Entity) (bool, error)
	// SetState moves an existing entry's sync state without touching
	// payload or version.
	SetState(ctx context.Context, id string, state SyncState) error
	// MarkAbsent records that the source confirmed the entity missing.
	// Creates the entry if it does not exist.
	MarkAbsent(ctx context.Context, id string) error
}

// MemoryCache is an in-memory CacheStore for development and tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entity
}

// NewMemoryCache creates an in-memory entity cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entity)}
}

func (m *MemoryCache) Get(ctx context.Context, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryCache) UpsertIfNewer(ctx context.Context, e *Entity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.entries[e.ID]; ok {
		// ABSENT is sticky against responses but a genuine push update
		// from the source supersedes it.
		if cur.SyncState == StateSynced && !e.SourceVersion.After(cur.SourceVersion) {
			return false, nil
		}
	}
	cp := *e
	m.entries[e.ID] = &cp
	return true, nil
}

func (m *MemoryCache) SetState(ctx context.Context, id string, state SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.SyncState = state
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryCache) MarkAbsent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		e = &Entity{ID: id}
		m.entries[id] = e
	}
	e.SyncState = StateAbsent
	e.Payload = nil
	e.UpdatedAt = time.Now().UTC()
	return nil
}
