// Package subscription manages the subscription lifecycle.
//
// Lifecycle:
//  1. Tier purchase activates a subscription, superseding any active one
//  2. User cancellation or tier change deactivates it
//  3. The sweeper expires subscriptions whose validity window has passed
//  4. Administrative action may suspend or cancel at any point
//
// CANCELLED is terminal: reactivation always means a new record. At most
// one subscription per owner is ACTIVE at any instant; the supersede path
// and the per-owner lock together hold that invariant.
package subscription

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("subscription: not found")
	ErrInvalidTransition = errors.New("subscription: invalid transition")
)

// Status represents a subscription's lifecycle state.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusSuspended Status = "SUSPENDED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled
}

// Subscription is one lifecycle record. Records are never deleted;
// expired and superseded ones remain for audit.
type Subscription struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"ownerId"`
	OwnerType string     `json:"ownerType"`
	TierID    string     `json:"tierId"`
	Status    Status     `json:"status"`
	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate,omitempty"` // nil = open-ended
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// transitions maps each state to the set of states it may move to.
// ACTIVE → EXPIRED is sweeper-only and enforced separately via
// ExpireIfActive; it appears here so Transition rejects nothing the
// machine allows.
var transitions = map[Status][]Status{
	StatusActive:    {StatusInactive, StatusExpired, StatusSuspended, StatusCancelled},
	StatusInactive:  {StatusSuspended, StatusCancelled},
	StatusExpired:   {StatusSuspended, StatusCancelled},
	StatusSuspended: {StatusActive, StatusCancelled},
	StatusCancelled: {},
}

// CanTransition reports whether from → to is a legal lifecycle move.
// EXPIRED and CANCELLED never move back to ACTIVE; reactivation requires
// a new record.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
