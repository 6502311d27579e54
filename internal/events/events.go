// Package events defines the cross-service event protocol and the bus
// abstraction used to carry it.
//
// Topics come in three families:
//   - entity.*       push updates and request/response sync for remotely
//     owned entities
//   - subscription.* lifecycle transitions
//   - token.*        ledger purchases, usage, and low-balance alerts
//
// Payloads are typed per topic family and decoded exactly once at the
// consumer boundary; handlers never see untyped maps. Delivery is
// at-least-once, so every handler must be idempotent under replay.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Topic names. The payload shape is the contract; transport is pluggable.
const (
	TopicEntityCreated      = "entity.created"
	TopicEntityUpdated      = "entity.updated"
	TopicEntitySyncRequest  = "entity.sync.request"
	TopicEntitySyncResponse = "entity.sync.response"

	TopicSubscriptionChanged = "subscription.changed"
	TopicSubscriptionExpired = "subscription.expired"

	TopicTokenPurchase = "token.purchase"
	TopicTokenUsage    = "token.usage"
	TopicTokenAlert    = "token.alert"
)

var ErrUnknownTopic = errors.New("events: unknown topic")

// Envelope wraps a serialized payload with delivery metadata.
type Envelope struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EntityEvent is the payload for entity.created and entity.updated.
// SourceVersion is the owning service's last-update timestamp; consumers
// use it to reject out-of-order deliveries.
type EntityEvent struct {
	ID            string          `json:"id"`
	Domain        string          `json:"domain"`
	SourceVersion time.Time       `json:"sourceVersion"`
	Fields        json.RawMessage `json:"fields"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SyncRequest is the payload for entity.sync.request.
type SyncRequest struct {
	RequestID   string    `json:"requestId"`
	TargetID    string    `json:"targetId"`
	RequestedBy string    `json:"requestedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

// SyncResponse is the payload for entity.sync.response.
type SyncResponse struct {
	RequestID     string          `json:"requestId"`
	TargetID      string          `json:"targetId"`
	Found         bool            `json:"found"`
	Domain        string          `json:"domain,omitempty"`
	SourceVersion time.Time       `json:"sourceVersion,omitempty"`
	Entity        json.RawMessage `json:"entity,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SubscriptionEvent is the payload for subscription.changed and
// subscription.expired. ChangedBy is "system" for sweeper-driven
// transitions.
type SubscriptionEvent struct {
	OwnerID       string     `json:"ownerId"`
	OwnerType     string     `json:"ownerType"`
	TierID        string     `json:"tierId"`
	PreviousTier  string     `json:"previousTier,omitempty"`
	PreviousState string     `json:"previousState"`
	NewState      string     `json:"newState"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	ChangedBy     string     `json:"changedBy"`
	Reason        string     `json:"reason,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// TokenEvent is the payload for token.purchase, token.usage, and
// token.alert. Amounts are fixed-point decimal strings.
type TokenEvent struct {
	OwnerID          string    `json:"ownerId"`
	OwnerType        string    `json:"ownerType"`
	Amount           string    `json:"amount"`
	ResultingBalance string    `json:"resultingBalance"`
	Operation        string    `json:"operation"` // purchase, use, alert
	Reason           string    `json:"reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Decode unmarshals an envelope's payload into its topic family's type.
// This is the single place topic names map to payload shapes.
func Decode(env *Envelope) (any, error) {
	switch env.Topic {
	case TopicEntityCreated, TopicEntityUpdated:
		var e EntityEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", env.Topic, err)
		}
		return &e, nil
	case TopicEntitySyncRequest:
		var e SyncRequest
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", env.Topic, err)
		}
		return &e, nil
	case TopicEntitySyncResponse:
		var e SyncResponse
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", env.Topic, err)
		}
		return &e, nil
	case TopicSubscriptionChanged, TopicSubscriptionExpired:
		var e SubscriptionEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", env.Topic, err)
		}
		return &e, nil
	case TopicTokenPurchase, TopicTokenUsage, TopicTokenAlert:
		var e TokenEvent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("events: decode %s: %w", env.Topic, err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, env.Topic)
	}
}
