package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivuli/bizsync/internal/testutil"
)

func pgSub(owner, tier string, status Status, endDate *time.Time) *Subscription {
	now := time.Now().UTC()
	return &Subscription{
		ID:        "sub_" + owner + "_" + tier,
		OwnerID:   owner,
		OwnerType: "USER",
		TierID:    tier,
		Status:    status,
		StartDate: now.Add(-24 * time.Hour),
		EndDate:   endDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgres_CreateGetActive(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	sub := pgSub("U1", "monthly", StatusActive, &end)
	require.NoError(t, store.Create(ctx, sub))

	got, err := store.GetActive(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, StatusActive, got.Status)
	require.NotNil(t, got.EndDate)
	assert.WithinDuration(t, end, *got.EndDate, time.Second)

	_, err = store.GetActive(ctx, "U2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_SingleActiveIndex(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pgSub("U1", "trial", StatusActive, nil)))

	// The partial unique index rejects a second ACTIVE row outright.
	err := store.Create(ctx, pgSub("U1", "monthly", StatusActive, nil))
	assert.Error(t, err)

	// Non-active records for the same owner are fine.
	assert.NoError(t, store.Create(ctx, pgSub("U1", "annual", StatusInactive, nil)))
}

func TestPostgres_Supersede(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	old := pgSub("U1", "trial", StatusActive, nil)
	require.NoError(t, store.Create(ctx, old))

	now := time.Now().UTC()
	oldCopy := *old
	oldCopy.Status = StatusInactive
	oldCopy.EndDate = &now
	oldCopy.UpdatedAt = now

	replacement := pgSub("U1", "monthly", StatusActive, nil)
	require.NoError(t, store.Supersede(ctx, &oldCopy, replacement))

	got, err := store.GetActive(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, got.ID)

	prev, err := store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, prev.Status)
}

func TestPostgres_ExpireIfActive(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	sub := pgSub("U1", "monthly", StatusActive, &past)
	require.NoError(t, store.Create(ctx, sub))

	got, applied, err := store.ExpireIfActive(ctx, sub.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusExpired, got.Status)

	// Second attempt matches nothing.
	got, applied, err = store.ExpireIfActive(ctx, sub.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestPostgres_ListDue(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, store.Create(ctx, pgSub("U1", "trial", StatusActive, &past)))
	require.NoError(t, store.Create(ctx, pgSub("U2", "monthly", StatusActive, &future)))
	require.NoError(t, store.Create(ctx, pgSub("U3", "enterprise", StatusActive, nil)))

	due, err := store.ListDue(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "U1", due[0].OwnerID)
}
