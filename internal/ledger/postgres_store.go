package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kivuli/bizsync/internal/idgen"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store with PostgreSQL.
//
// The balance update and history append commit in one serializable
// transaction; the CHECK constraint on balance >= 0 backstops the
// engine-level overdraft rejection at the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, ownerID string) (*Balance, error) {
	bal := &Balance{OwnerID: ownerID}

	err := p.db.QueryRowContext(ctx, `
		SELECT owner_type, balance, total_used, updated_at
		FROM token_ledgers WHERE owner_id = $1
	`, ownerID).Scan(&bal.OwnerType, &bal.Balance, &bal.TotalUsed, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		bal.Balance = "0.00"
		bal.TotalUsed = "0.00"
		return bal, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

func (p *PostgresStore) Credit(ctx context.Context, ownerID string, ownerType OwnerType, amount, reference string) (*Balance, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	bal := &Balance{OwnerID: ownerID, OwnerType: ownerType}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO token_ledgers (owner_id, owner_type, balance, total_used, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), 0, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			balance    = token_ledgers.balance + $3::NUMERIC(20,2),
			updated_at = NOW()
		RETURNING balance, total_used, updated_at
	`, ownerID, ownerType, amount).Scan(&bal.Balance, &bal.TotalUsed, &bal.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, owner_id, operation, delta, balance_after, reason, created_at)
		VALUES ($1, $2, 'purchase', $3::NUMERIC(20,2), $4::NUMERIC(20,2), $5, NOW())
	`, idgen.WithPrefix("le_"), ownerID, amount, bal.Balance, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to record entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return bal, nil
}

func (p *PostgresStore) Debit(ctx context.Context, ownerID, amount, reason string) (*Balance, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Conditional update: the WHERE clause rejects an overdraft without
	// touching the row, so a failed debit leaves no trace.
	bal := &Balance{OwnerID: ownerID}
	err = tx.QueryRowContext(ctx, `
		UPDATE token_ledgers SET
			balance    = balance - $2::NUMERIC(20,2),
			total_used = total_used + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE owner_id = $1 AND balance >= $2::NUMERIC(20,2)
		RETURNING owner_type, balance, total_used, updated_at
	`, ownerID, amount).Scan(&bal.OwnerType, &bal.Balance, &bal.TotalUsed, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		// Missing ledger and insufficient funds reject identically:
		// an absent ledger is a zero balance.
		return nil, ErrInsufficientBalance
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, owner_id, operation, delta, balance_after, reason, created_at)
		VALUES ($1, $2, 'use', -$3::NUMERIC(20,2), $4::NUMERIC(20,2), $5, NOW())
	`, idgen.WithPrefix("le_"), ownerID, amount, bal.Balance, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to record entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return bal, nil
}

func (p *PostgresStore) History(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, operation, delta, balance_after, COALESCE(reason, ''), created_at
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (p *PostgresStore) AllEntries(ctx context.Context, ownerID string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, operation, delta, balance_after, COALESCE(reason, ''), created_at
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at ASC, id ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Operation, &e.Delta, &e.BalanceAfter, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
