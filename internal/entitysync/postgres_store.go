package entitysync

import (
	"context"
	"database/sql"
	"fmt"
)

// Compile-time check that PostgresCache implements CacheStore.
var _ CacheStore = (*PostgresCache)(nil)

// PostgresCache implements CacheStore backed by PostgreSQL.
type PostgresCache struct {
	db *sql.DB
}

// NewPostgresCache creates a new PostgreSQL-backed entity cache.
func NewPostgresCache(db *sql.DB) *PostgresCache {
	return &PostgresCache{db: db}
}

func (p *PostgresCache) Get(ctx context.Context, id string) (*Entity, error) {
	e := &Entity{}
	var state string

	err := p.db.QueryRowContext(ctx, `
		SELECT id, domain, source_version, COALESCE(payload, 'null'), sync_state, updated_at
		FROM entity_cache WHERE id = $1
	`, id).Scan(&e.ID, &e.Domain, &e.SourceVersion, &e.Payload, &state, &e.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.SyncState = SyncState(state)
	return e, nil
}

func (p *PostgresCache) UpsertIfNewer(ctx context.Context, e *Entity) (bool, error) {
	// The WHERE on the conflict update rejects out-of-order versions
	// against a SYNCED copy in one statement.
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO entity_cache (id, domain, source_version, payload, sync_state, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			domain         = EXCLUDED.domain,
			source_version = EXCLUDED.source_version,
			payload        = EXCLUDED.payload,
			sync_state     = EXCLUDED.sync_state,
			updated_at     = NOW()
		WHERE entity_cache.sync_state != 'SYNCED'
		   OR EXCLUDED.source_version > entity_cache.source_version
	`, e.ID, e.Domain, e.SourceVersion, e.Payload, string(e.SyncState))
	if err != nil {
		return false, fmt.Errorf("upsert entity: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresCache) SetState(ctx context.Context, id string, state SyncState) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE entity_cache SET sync_state = $2, updated_at = NOW() WHERE id = $1
	`, id, string(state))
	if err != nil {
		return fmt.Errorf("set entity state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresCache) MarkAbsent(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO entity_cache (id, domain, source_version, payload, sync_state, updated_at)
		VALUES ($1, '', 'epoch'::TIMESTAMPTZ, NULL, 'ABSENT', NOW())
		ON CONFLICT (id) DO UPDATE SET
			sync_state = 'ABSENT',
			payload    = NULL,
			updated_at = NOW()
	`, id)
	if err != nil {
		return fmt.Errorf("mark entity absent: %w", err)
	}
	return nil
}
