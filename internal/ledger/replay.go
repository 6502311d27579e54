package ledger

import (
	"context"
	"math/big"

	"github.com/kivuli/bizsync/internal/tokens"
)

// ReconcileResult holds the outcome of replaying history vs stored balance.
type ReconcileResult struct {
	OwnerID       string `json:"ownerId"`
	Match         bool   `json:"match"`
	ReplayBalance string `json:"replayBalance"`
	ActualBalance string `json:"actualBalance"`
	Entries       int    `json:"entries"`
}

// Rebuild replays history deltas from empty and returns the resulting
// balance. Entries with unparseable deltas are skipped.
func Rebuild(entries []*Entry) string {
	sum := big.NewInt(0)
	for _, e := range entries {
		delta, ok := tokens.ParseSigned(e.Delta)
		if !ok {
			continue
		}
		sum.Add(sum, delta)
	}
	return tokens.Format(sum)
}

// Reconcile replays an owner's full history and compares the result
// against the stored balance. A mismatch means the append-only invariant
// was violated somewhere and needs investigation.
func Reconcile(ctx context.Context, store Store, ownerID string) (*ReconcileResult, error) {
	entries, err := store.AllEntries(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	actual, err := store.GetBalance(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// Normalize through Parse/Format for a canonical comparison
	actualAmt, _ := tokens.Parse(actual.Balance)

	result := &ReconcileResult{
		OwnerID:       ownerID,
		ReplayBalance: Rebuild(entries),
		ActualBalance: tokens.Format(actualAmt),
		Entries:       len(entries),
	}
	result.Match = result.ReplayBalance == result.ActualBalance

	return result, nil
}
