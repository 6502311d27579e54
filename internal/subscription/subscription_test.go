package subscription

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivuli/bizsync/internal/events"
	"github.com/kivuli/bizsync/internal/pricing"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil)
	store := NewMemoryStore()
	return NewService(store, bus, nil), store, bus
}

func collectSubscriptionEvents(bus *events.Bus, topic string) *[]events.SubscriptionEvent {
	var mu sync.Mutex
	collected := &[]events.SubscriptionEvent{}
	bus.Subscribe(topic, func(ctx context.Context, env *events.Envelope) error {
		var e events.SubscriptionEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return err
		}
		mu.Lock()
		*collected = append(*collected, e)
		mu.Unlock()
		return nil
	})
	return collected
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusInactive, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusSuspended, true},
		{StatusActive, StatusCancelled, true},
		{StatusInactive, StatusCancelled, true},
		{StatusSuspended, StatusActive, true},
		{StatusSuspended, StatusCancelled, true},
		{StatusExpired, StatusActive, false},
		{StatusCancelled, StatusActive, false},
		{StatusCancelled, StatusSuspended, false},
		{StatusInactive, StatusActive, false},
		{StatusExpired, StatusInactive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	sub, err := svc.Activate(ctx, "U1", "USER", "monthly", "U1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, "monthly", sub.TierID)
	require.NotNil(t, sub.EndDate)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *sub.EndDate, time.Minute)

	got, err := svc.GetActive(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
}

func TestActivateUnknownTier(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Activate(context.Background(), "U1", "USER", "gold", "U1")
	assert.ErrorIs(t, err, pricing.ErrUnknownTier)
}

func TestActivateEnterpriseHasNoEndDate(t *testing.T) {
	svc, _, _ := newTestService(t)

	sub, err := svc.Activate(context.Background(), "B1", "BUSINESS", "enterprise", "admin")
	require.NoError(t, err)
	assert.Nil(t, sub.EndDate)
}

func TestActivateSupersedesActive(t *testing.T) {
	ctx := context.Background()
	svc, store, bus := newTestService(t)
	changed := collectSubscriptionEvents(bus, events.TopicSubscriptionChanged)

	first, err := svc.Activate(ctx, "U1", "USER", "trial", "U1")
	require.NoError(t, err)

	second, err := svc.Activate(ctx, "U1", "USER", "monthly", "U1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// Old record went INACTIVE with its window closed.
	old, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, old.Status)
	require.NotNil(t, old.EndDate)
	assert.WithinDuration(t, time.Now(), *old.EndDate, time.Minute)

	// Exactly one ACTIVE record remains.
	all, err := store.ListByOwner(ctx, "U1", 10)
	require.NoError(t, err)
	active := 0
	for _, s := range all {
		if s.Status == StatusActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	// Three changed events: first activation, supersede, second activation.
	require.Len(t, *changed, 3)
	supersede := (*changed)[1]
	assert.Equal(t, string(StatusInactive), supersede.NewState)
	assert.Equal(t, string(StatusActive), supersede.PreviousState)
	assert.Equal(t, "superseded", supersede.Reason)
	assert.Equal(t, "trial", supersede.PreviousTier)
}

func TestSingleActiveUnderTierChurn(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	tiers := []string{"trial", "monthly", "annual", "monthly", "enterprise"}
	for _, tier := range tiers {
		_, err := svc.Activate(ctx, "U1", "USER", tier, "U1")
		require.NoError(t, err)

		all, err := store.ListByOwner(ctx, "U1", 50)
		require.NoError(t, err)
		active := 0
		for _, s := range all {
			if s.Status == StatusActive {
				active++
			}
		}
		require.Equal(t, 1, active, "after activating %s", tier)
	}
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	svc, _, bus := newTestService(t)
	changed := collectSubscriptionEvents(bus, events.TopicSubscriptionChanged)

	_, err := svc.Activate(ctx, "U1", "USER", "monthly", "U1")
	require.NoError(t, err)

	sub, err := svc.Deactivate(ctx, "U1", "U1", "user cancelled")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, sub.Status)

	_, err = svc.GetActive(ctx, "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	last := (*changed)[len(*changed)-1]
	assert.Equal(t, "user cancelled", last.Reason)
	assert.Equal(t, "U1", last.ChangedBy)
}

func TestDeactivateWithoutActive(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Deactivate(context.Background(), "U1", "U1", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	sub, err := svc.Activate(ctx, "U1", "USER", "monthly", "U1")
	require.NoError(t, err)

	// Cancel, then try to resurrect.
	_, err = svc.Transition(ctx, sub.ID, StatusCancelled, "admin", "fraud")
	require.NoError(t, err)

	_, err = svc.Transition(ctx, sub.ID, StatusActive, "admin", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Transition(ctx, sub.ID, StatusSuspended, "admin", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Expired records never reactivate either.
	past := time.Now().Add(-time.Hour)
	expired := &Subscription{
		ID: "sub_x", OwnerID: "U2", OwnerType: "USER", TierID: "trial",
		Status: StatusExpired, StartDate: past, EndDate: &past,
		CreatedAt: past, UpdatedAt: past,
	}
	require.NoError(t, store.Create(ctx, expired))
	_, err = svc.Transition(ctx, "sub_x", StatusActive, "admin", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSuspendAndUnsuspend(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	sub, err := svc.Activate(ctx, "U1", "USER", "monthly", "U1")
	require.NoError(t, err)

	got, err := svc.Transition(ctx, sub.ID, StatusSuspended, "admin", "payment dispute")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, got.Status)

	got, err = svc.Transition(ctx, sub.ID, StatusActive, "admin", "dispute resolved")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestExpireDueSweep(t *testing.T) {
	ctx := context.Background()
	svc, store, bus := newTestService(t)
	expiredEvents := collectSubscriptionEvents(bus, events.TopicSubscriptionExpired)

	// S1 ACTIVE with endDate an hour in the past.
	past := time.Now().UTC().Add(-time.Hour)
	start := past.Add(-14 * 24 * time.Hour)
	s1 := &Subscription{
		ID: "sub_s1", OwnerID: "U1", OwnerType: "USER", TierID: "trial",
		Status: StatusActive, StartDate: start, EndDate: &past,
		CreatedAt: start, UpdatedAt: start,
	}
	require.NoError(t, store.Create(ctx, s1))

	count, err := svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := store.Get(ctx, "sub_s1")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	require.Len(t, *expiredEvents, 1)
	ev := (*expiredEvents)[0]
	assert.Equal(t, ChangedBySystem, ev.ChangedBy)
	assert.Equal(t, string(StatusExpired), ev.NewState)
	assert.Equal(t, string(StatusActive), ev.PreviousState)
}

func TestExpireDueIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store, bus := newTestService(t)
	expiredEvents := collectSubscriptionEvents(bus, events.TopicSubscriptionExpired)

	past := time.Now().UTC().Add(-time.Hour)
	sub := &Subscription{
		ID: "sub_s1", OwnerID: "U1", OwnerType: "USER", TierID: "monthly",
		Status: StatusActive, StartDate: past.Add(-30 * 24 * time.Hour), EndDate: &past,
		CreatedAt: past, UpdatedAt: past,
	}
	require.NoError(t, store.Create(ctx, sub))

	count, err := svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A second sweep finds nothing due and emits nothing.
	count, err = svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Len(t, *expiredEvents, 1)
}

func TestExpireSkipsNotDue(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	sub, err := svc.Activate(ctx, "U1", "USER", "annual", "U1")
	require.NoError(t, err)

	applied, err := svc.Expire(ctx, sub.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestExpireSkipsOpenEnded(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	_, err := svc.Activate(ctx, "B1", "BUSINESS", "enterprise", "admin")
	require.NoError(t, err)

	due, err := store.ListDue(ctx, time.Now().Add(1000*24*time.Hour), 100)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSweeperLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, store, _ := newTestService(t)
	past := time.Now().UTC().Add(-time.Hour)
	sub := &Subscription{
		ID: "sub_s1", OwnerID: "U1", OwnerType: "USER", TierID: "trial",
		Status: StatusActive, StartDate: past, EndDate: &past,
		CreatedAt: past, UpdatedAt: past,
	}
	require.NoError(t, store.Create(ctx, sub))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	sweeper := NewSweeper(svc, 10*time.Millisecond, logger)
	go sweeper.Start(ctx)
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), "sub_s1")
		return err == nil && got.Status == StatusExpired
	}, 2*time.Second, 10*time.Millisecond)
}
