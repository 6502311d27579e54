package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kivuli/bizsync/internal/idgen"
)

// Handler processes one delivered envelope. Returning an error marks the
// delivery failed; the bus logs and counts it but never redelivers within
// the process and never stops the dispatch loop.
type Handler func(ctx context.Context, env *Envelope) error

// Publisher emits events onto a topic. Implementations are passed
// explicitly through constructors; there is no ambient bus singleton.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Consumer registers handlers for topics.
type Consumer interface {
	Subscribe(topic string, h Handler)
}

// Bus is an in-memory Publisher/Consumer. Dispatch is synchronous and
// ordered per topic, which keeps per-owner ledger and entity events in
// publish order and makes tests deterministic. A broker-backed transport
// can replace it behind the same two interfaces.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger

	// serializes dispatch per topic so a slow handler on one topic
	// cannot reorder deliveries on that topic
	topicMu sync.Map // topic -> *sync.Mutex
}

// NewBus creates a new in-memory bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic. Not safe to call concurrently
// with Publish on the same topic; wire subscriptions at composition time.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], h)
	b.mu.Unlock()
}

// Publish marshals the payload, wraps it in an envelope, and delivers it
// to every subscriber of the topic in registration order. Handler errors
// are logged and counted, never propagated: a bad message must not poison
// the publisher's own operation.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s payload: %w", topic, err)
	}

	env := &Envelope{
		ID:        idgen.WithPrefix("evt_"),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}

	b.mu.RLock()
	subs := b.handlers[topic]
	b.mu.RUnlock()

	muAny, _ := b.topicMu.LoadOrStore(topic, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	for _, h := range subs {
		PublishedTotal.WithLabelValues(topic).Inc()
		if err := h(ctx, env); err != nil {
			HandlerErrorsTotal.WithLabelValues(topic).Inc()
			b.logger.Warn("event handler failed",
				"topic", topic,
				"event_id", env.ID,
				"error", err,
			)
		}
	}

	return nil
}
