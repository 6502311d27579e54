package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
//
// A partial unique index on (owner_id) WHERE status = 'ACTIVE' backstops
// the single-active invariant at the database; the service's supersede
// path and per-owner lock hold it at the application level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, owner_id, owner_type, tier_id, status,
			start_date, end_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		sub.ID, sub.OwnerID, sub.OwnerType, sub.TierID, string(sub.Status),
		sub.StartDate, nullTime(sub.EndDate), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_type, tier_id, status,
		       start_date, end_date, created_at, updated_at
		FROM subscriptions WHERE id = $1
	`, id)
	return scanSubscription(row)
}

func (p *PostgresStore) GetActive(ctx context.Context, ownerID string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_type, tier_id, status,
		       start_date, end_date, created_at, updated_at
		FROM subscriptions
		WHERE owner_id = $1 AND status = 'ACTIVE'
	`, ownerID)
	return scanSubscription(row)
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			status     = $2,
			end_date   = $3,
			updated_at = $4
		WHERE id = $1
	`, sub.ID, string(sub.Status), nullTime(sub.EndDate), sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
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

func (p *PostgresStore) Supersede(ctx context.Context, old, replacement *Subscription) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if old != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE subscriptions SET
				status     = $2,
				end_date   = $3,
				updated_at = $4
			WHERE id = $1 AND status = 'ACTIVE'
		`, old.ID, string(old.Status), nullTime(old.EndDate), old.UpdatedAt)
		if err != nil {
			return fmt.Errorf("deactivate superseded: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, owner_id, owner_type, tier_id, status,
			start_date, end_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		replacement.ID, replacement.OwnerID, replacement.OwnerType,
		replacement.TierID, string(replacement.Status),
		replacement.StartDate, nullTime(replacement.EndDate),
		replacement.CreatedAt, replacement.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert replacement: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, owner_type, tier_id, status,
		       start_date, end_date, created_at, updated_at
		FROM subscriptions
		WHERE status = 'ACTIVE' AND end_date IS NOT NULL AND end_date <= $1
		ORDER BY end_date ASC
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSubscriptions(rows)
}

func (p *PostgresStore) ExpireIfActive(ctx context.Context, id string, asOf time.Time) (*Subscription, bool, error) {
	// Conditional update: only a still-ACTIVE, due record transitions.
	// A concurrent sweep that lost the race matches zero rows and falls
	// through to a plain read.
	row := p.db.QueryRowContext(ctx, `
		UPDATE subscriptions SET
			status     = 'EXPIRED',
			updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE' AND end_date IS NOT NULL AND end_date <= $2
		RETURNING id, owner_id, owner_type, tier_id, status,
		          start_date, end_date, created_at, updated_at
	`, id, asOf)

	sub, err := scanSubscription(row)
	if err == ErrNotFound {
		sub, err := p.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return sub, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, owner_type, tier_id, status,
		       start_date, end_date, created_at, updated_at
		FROM subscriptions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSubscriptions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var status string
	var endDate sql.NullTime

	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.OwnerType, &sub.TierID, &status,
		&sub.StartDate, &endDate, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.Status = Status(status)
	if endDate.Valid {
		t := endDate.Time
		sub.EndDate = &t
	}
	return sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// nullTime returns a sql.NullTime: valid if t is non-nil, null otherwise.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
