package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/kivuli/bizsync/internal/events"
	"github.com/kivuli/bizsync/internal/idgen"
	"github.com/kivuli/bizsync/internal/pricing"
	"github.com/kivuli/bizsync/internal/syncutil"
	"github.com/kivuli/bizsync/internal/traces"
)

// ChangedBySystem marks sweeper-driven transitions in emitted events.
const ChangedBySystem = "system"

// Store persists subscription records.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetActive(ctx context.Context, ownerID string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	// Supersede atomically deactivates old (may be nil) and creates
	// replacement. Both commit together or not at all.
	Supersede(ctx context.Context, old, replacement *Subscription) error
	// ListDue returns ACTIVE subscriptions whose endDate <= asOf.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error)
	// ExpireIfActive transitions id to EXPIRED only if it is still ACTIVE
	// and its endDate <= asOf. Returns the record and whether the
	// transition was applied, which makes concurrent sweeps idempotent.
	ExpireIfActive(ctx context.Context, id string, asOf time.Time) (*Subscription, bool, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Subscription, error)
}

// Service validates and applies lifecycle transitions.
type Service struct {
	store  Store
	bus    events.Publisher
	locks  *syncutil.ContextShardedMutex
	logger *slog.Logger
}

// NewService creates a subscription service.
func NewService(store Store, bus events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		bus:    bus,
		locks:  syncutil.NewContextShardedMutex(),
		logger: logger,
	}
}

// Activate creates an ACTIVE subscription for the given tier, superseding
// any currently-active record in the same transaction: the old record goes
// INACTIVE with endDate = now, the new one starts immediately.
func (s *Service) Activate(ctx context.Context, ownerID, ownerType, tierID, changedBy string) (*Subscription, error) {
	tier, err := pricing.TierByID(tierID)
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "subscription.Activate", traces.OwnerID(ownerID), traces.TierID(tierID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now().UTC()

	old, err := s.store.GetActive(ctx, ownerID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("sub_"),
		OwnerID:   ownerID,
		OwnerType: ownerType,
		TierID:    tierID,
		Status:    StatusActive,
		StartDate: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tier.Duration > 0 {
		end := now.Add(tier.Duration)
		sub.EndDate = &end
	}

	var oldCopy *Subscription
	if old != nil {
		cp := *old
		cp.Status = StatusInactive
		end := now
		cp.EndDate = &end
		cp.UpdatedAt = now
		oldCopy = &cp
	}

	if err := s.store.Supersede(ctx, oldCopy, sub); err != nil {
		return nil, err
	}

	if oldCopy != nil {
		TransitionsTotal.WithLabelValues(string(StatusInactive)).Inc()
		s.emit(ctx, events.TopicSubscriptionChanged, old, oldCopy, changedBy, "superseded")
	}
	TransitionsTotal.WithLabelValues(string(StatusActive)).Inc()
	s.emit(ctx, events.TopicSubscriptionChanged, nil, sub, changedBy, "")

	return sub, nil
}

// Deactivate cancels the owner's active subscription: ACTIVE → INACTIVE.
func (s *Service) Deactivate(ctx context.Context, ownerID, changedBy, reason string) (*Subscription, error) {
	unlock, err := s.locks.LockContext(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := s.store.GetActive(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	prev := sub.Status
	if !CanTransition(prev, StatusInactive) {
		return nil, invalidTransition(prev, StatusInactive)
	}

	now := time.Now().UTC()
	sub.Status = StatusInactive
	sub.EndDate = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	TransitionsTotal.WithLabelValues(string(StatusInactive)).Inc()
	s.emit(ctx, events.TopicSubscriptionChanged, &Subscription{Status: prev, TierID: sub.TierID}, sub, changedBy, reason)
	return sub, nil
}

// Transition applies an administrative lifecycle move (suspend, cancel).
// Illegal moves fail with ErrInvalidTransition and are never coerced.
func (s *Service) Transition(ctx context.Context, id string, to Status, changedBy, reason string) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, sub.OwnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; the record may have moved.
	sub, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prev := sub.Status
	if !CanTransition(prev, to) {
		return nil, invalidTransition(prev, to)
	}

	sub.Status = to
	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	TransitionsTotal.WithLabelValues(string(to)).Inc()
	s.emit(ctx, events.TopicSubscriptionChanged, &Subscription{Status: prev, TierID: sub.TierID}, sub, changedBy, reason)
	return sub, nil
}

// Expire transitions one subscription to EXPIRED if it is still ACTIVE
// and due. Returns whether the transition was applied; repeated calls on
// an already-expired record are a no-op and emit nothing.
func (s *Service) Expire(ctx context.Context, id string, asOf time.Time) (bool, error) {
	sub, applied, err := s.store.ExpireIfActive(ctx, id, asOf)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	TransitionsTotal.WithLabelValues(string(StatusExpired)).Inc()
	s.emit(ctx, events.TopicSubscriptionExpired,
		&Subscription{Status: StatusActive, TierID: sub.TierID}, sub, ChangedBySystem, "validity window elapsed")
	return true, nil
}

// ExpireDue sweeps all due subscriptions. Items fail independently:
// an error on one record is logged and the sweep continues; the failed
// record is retried on the next tick.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	due, err := s.store.ListDue(ctx, now, 500)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range due {
		applied, err := s.Expire(ctx, sub.ID, now)
		if err != nil {
			SweepFailuresTotal.Inc()
			s.logger.Warn("failed to expire subscription",
				"subscription_id", sub.ID,
				"owner", sub.OwnerID,
				"error", err,
			)
			continue
		}
		if applied {
			expired++
			SweepExpiredTotal.Inc()
		}
	}

	return expired, nil
}

// Get returns one subscription by id.
func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// GetActive returns the owner's active subscription, or ErrNotFound.
func (s *Service) GetActive(ctx context.Context, ownerID string) (*Subscription, error) {
	return s.store.GetActive(ctx, ownerID)
}

// ListByOwner returns an owner's subscription records, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Subscription, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListByOwner(ctx, ownerID, limit)
}

func (s *Service) emit(ctx context.Context, topic string, prev, cur *Subscription, changedBy, reason string) {
	if s.bus == nil {
		return
	}

	ev := &events.SubscriptionEvent{
		OwnerID:   cur.OwnerID,
		OwnerType: cur.OwnerType,
		TierID:    cur.TierID,
		NewState:  string(cur.Status),
		StartDate: &cur.StartDate,
		EndDate:   cur.EndDate,
		ChangedBy: changedBy,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if prev != nil {
		ev.PreviousState = string(prev.Status)
		ev.PreviousTier = prev.TierID
	}

	if err := s.bus.Publish(ctx, topic, ev); err != nil {
		s.logger.Warn("failed to publish subscription event", "topic", topic, "owner", cur.OwnerID, "error", err)
	}
}
