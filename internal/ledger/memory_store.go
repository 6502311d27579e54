package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/kivuli/bizsync/internal/idgen"
	"github.com/kivuli/bizsync/internal/tokens"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make([]*Entry, 0),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, ownerID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[ownerID]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{
		OwnerID:   ownerID,
		Balance:   "0.00",
		TotalUsed: "0.00",
		UpdatedAt: time.Now(),
	}, nil
}

func (m *MemoryStore) Credit(ctx context.Context, ownerID string, ownerType OwnerType, amount, reference string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ownerID]
	if !ok {
		// Created lazily on first credit
		bal = &Balance{
			OwnerID:   ownerID,
			OwnerType: ownerType,
			Balance:   "0.00",
			TotalUsed: "0.00",
		}
		m.balances[ownerID] = bal
	}

	cur, _ := tokens.Parse(bal.Balance)
	add, _ := tokens.Parse(amount)
	cur.Add(cur, add)
	bal.Balance = tokens.Format(cur)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:           idgen.WithPrefix("le_"),
		OwnerID:      ownerID,
		Operation:    OpPurchase,
		Delta:        tokens.Format(add),
		BalanceAfter: bal.Balance,
		Reason:       reference,
		CreatedAt:    time.Now(),
	})

	cp := *bal
	return &cp, nil
}

func (m *MemoryStore) Debit(ctx context.Context, ownerID, amount, reason string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ownerID]
	if !ok {
		// No ledger means zero balance: any positive debit overdraws.
		return nil, ErrInsufficientBalance
	}

	cur, _ := tokens.Parse(bal.Balance)
	used, _ := tokens.Parse(bal.TotalUsed)
	sub, _ := tokens.Parse(amount)

	if cur.Cmp(sub) < 0 {
		return nil, ErrInsufficientBalance
	}

	cur.Sub(cur, sub)
	used.Add(used, sub)
	bal.Balance = tokens.Format(cur)
	bal.TotalUsed = tokens.Format(used)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:           idgen.WithPrefix("le_"),
		OwnerID:      ownerID,
		Operation:    OpUse,
		Delta:        tokens.Format(new(big.Int).Neg(sub)),
		BalanceAfter: bal.Balance,
		Reason:       reason,
		CreatedAt:    time.Now(),
	})

	cp := *bal
	return &cp, nil
}

func (m *MemoryStore) History(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].OwnerID == ownerID {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

func (m *MemoryStore) AllEntries(ctx context.Context, ownerID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.OwnerID == ownerID {
			result = append(result, e)
		}
	}
	return result, nil
}
