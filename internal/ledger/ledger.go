// Package ledger tracks per-owner token balances.
//
// Flow:
//  1. Owner purchases a token package → balance credited
//  2. Request paths spend tokens → balance debited
//  3. Every movement appends an immutable history entry
//  4. Crossing the low-balance threshold fires a one-shot alert event
//
// Balances are shared-liability: multiple request paths debit the same
// owner concurrently, so all mutation for one owner serializes behind a
// per-owner lock. The balance can never go negative; a debit that would
// overdraw is rejected wholesale with no partial effect.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/kivuli/bizsync/internal/events"
	"github.com/kivuli/bizsync/internal/syncutil"
	"github.com/kivuli/bizsync/internal/tokens"
	"github.com/kivuli/bizsync/internal/traces"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidOwnerType    = errors.New("invalid owner type")
)

// OwnerType identifies the kind of billable entity a ledger belongs to.
type OwnerType string

const (
	OwnerUser        OwnerType = "USER"
	OwnerBusiness    OwnerType = "BUSINESS"
	OwnerInstitution OwnerType = "INSTITUTION"
)

// ValidOwnerType reports whether t is a recognised owner type.
func ValidOwnerType(t OwnerType) bool {
	switch t {
	case OwnerUser, OwnerBusiness, OwnerInstitution:
		return true
	}
	return false
}

// Operation tags a ledger movement or observational event.
type Operation string

const (
	OpPurchase Operation = "purchase"
	OpUse      Operation = "use"
	OpAlert    Operation = "alert" // event-only, never written to history
)

// Entry is one immutable history record. Delta is signed: positive for
// purchases, negative for usage. History is append-only and the balance
// always equals the running sum of deltas.
type Entry struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Operation    Operation `json:"operation"`
	Delta        string    `json:"delta"`
	BalanceAfter string    `json:"balanceAfter"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Balance is an owner's current ledger state.
type Balance struct {
	OwnerID   string    `json:"ownerId"`
	OwnerType OwnerType `json:"ownerType"`
	Balance   string    `json:"balance"`
	TotalUsed string    `json:"totalUsed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ledger data. Credit and Debit are atomic: the balance
// update and the history append commit together or not at all, and a
// rejected debit writes nothing.
type Store interface {
	GetBalance(ctx context.Context, ownerID string) (*Balance, error)
	Credit(ctx context.Context, ownerID string, ownerType OwnerType, amount, reference string) (*Balance, error)
	Debit(ctx context.Context, ownerID, amount, reason string) (*Balance, error)
	History(ctx context.Context, ownerID string, limit int) ([]*Entry, error)
	AllEntries(ctx context.Context, ownerID string) ([]*Entry, error)
}

// Engine serializes ledger mutation per owner and emits token events.
type Engine struct {
	store     Store
	bus       events.Publisher
	locks     *syncutil.ContextShardedMutex
	threshold *big.Int
	logger    *slog.Logger

	// one-shot alert state: true while an owner is below threshold and
	// has already been alerted; re-arms when the balance recovers
	alertMu sync.Mutex
	alerted map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLowBalanceThreshold sets the alert threshold (fixed-point decimal).
func WithLowBalanceThreshold(amount string) Option {
	return func(e *Engine) {
		if v, ok := tokens.Parse(amount); ok {
			e.threshold = v
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a ledger engine over the given store and event bus.
func NewEngine(store Store, bus events.Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		bus:     bus,
		locks:   syncutil.NewContextShardedMutex(),
		alerted: make(map[string]bool),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Credit adds purchased tokens to an owner's balance, creating the ledger
// lazily on first credit. Returns the new balance.
func (e *Engine) Credit(ctx context.Context, ownerID string, ownerType OwnerType, amount, reference string) (*Balance, error) {
	if !ValidOwnerType(ownerType) {
		return nil, ErrInvalidOwnerType
	}
	amt, ok := tokens.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, span := traces.StartSpan(ctx, "ledger.Credit", traces.OwnerID(ownerID), traces.Amount(amount))
	defer span.End()
	done := observeOp("credit")
	defer done()

	unlock, err := e.locks.LockContext(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bal, err := e.store.Credit(ctx, ownerID, ownerType, tokens.Format(amt), reference)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events.TopicTokenPurchase, bal, tokens.Format(amt), OpPurchase, reference)
	e.rearmAlert(ownerID, bal)

	return bal, nil
}

// Debit spends tokens. A debit exceeding the balance fails wholesale with
// ErrInsufficientBalance: no balance change, no history entry.
func (e *Engine) Debit(ctx context.Context, ownerID, amount, reason string) (*Balance, error) {
	amt, ok := tokens.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, span := traces.StartSpan(ctx, "ledger.Debit", traces.OwnerID(ownerID), traces.Amount(amount))
	defer span.End()
	done := observeOp("debit")
	defer done()

	unlock, err := e.locks.LockContext(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bal, err := e.store.Debit(ctx, ownerID, tokens.Format(amt), reason)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			RejectedDebitsTotal.Inc()
		}
		return nil, err
	}

	e.publish(ctx, events.TopicTokenUsage, bal, tokens.Format(amt), OpUse, reason)
	e.checkThreshold(ctx, bal)

	return bal, nil
}

// Balance returns the owner's latest committed balance.
func (e *Engine) Balance(ctx context.Context, ownerID string) (*Balance, error) {
	return e.store.GetBalance(ctx, ownerID)
}

// History returns the most recent ledger entries for an owner.
func (e *Engine) History(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.History(ctx, ownerID, limit)
}

// checkThreshold fires a one-shot token.alert event the first time the
// balance drops below the threshold. It does not fire again while the
// owner stays below; the alert re-arms once the balance recovers.
func (e *Engine) checkThreshold(ctx context.Context, bal *Balance) {
	if e.threshold == nil {
		return
	}
	cur, ok := tokens.Parse(bal.Balance)
	if !ok {
		return
	}
	if cur.Cmp(e.threshold) >= 0 {
		return
	}

	e.alertMu.Lock()
	already := e.alerted[bal.OwnerID]
	e.alerted[bal.OwnerID] = true
	e.alertMu.Unlock()

	if already {
		return
	}

	AlertsFiredTotal.Inc()
	e.publish(ctx, events.TopicTokenAlert, bal, tokens.Format(e.threshold), OpAlert, "low_balance")
}

func (e *Engine) rearmAlert(ownerID string, bal *Balance) {
	if e.threshold == nil {
		return
	}
	cur, ok := tokens.Parse(bal.Balance)
	if !ok || cur.Cmp(e.threshold) < 0 {
		return
	}
	e.alertMu.Lock()
	delete(e.alerted, ownerID)
	e.alertMu.Unlock()
}

func (e *Engine) publish(ctx context.Context, topic string, bal *Balance, amount string, op Operation, reason string) {
	if e.bus == nil {
		return
	}
	err := e.bus.Publish(ctx, topic, &events.TokenEvent{
		OwnerID:          bal.OwnerID,
		OwnerType:        string(bal.OwnerType),
		Amount:           amount,
		ResultingBalance: bal.Balance,
		Operation:        string(op),
		Reason:           reason,
		Timestamp:        time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn("failed to publish token event", "topic", topic, "owner", bal.OwnerID, "error", err)
	}
}
