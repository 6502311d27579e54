package entitysync

import (
	"context"
	"time"

	"github.com/kivuli/bizsync/internal/events"
)

// Attach subscribes the client's handlers on the consumer.
func (c *Client) Attach(consumer events.Consumer) {
	consumer.Subscribe(events.TopicEntityCreated, c.HandleEntityEvent)
	consumer.Subscribe(events.TopicEntityUpdated, c.HandleEntityEvent)
	consumer.Subscribe(events.TopicEntitySyncResponse, c.HandleSyncResponse)
}

// HandleEntityEvent consumes unsolicited entity.created and
// entity.updated pushes from the owning service. Events for a foreign
// domain are never materialized; updates older than the cached
// sourceVersion are dropped.
func (c *Client) HandleEntityEvent(ctx context.Context, env *events.Envelope) error {
	payload, err := events.Decode(env)
	if err != nil {
		return err
	}
	ev := payload.(*events.EntityEvent)

	if ev.Domain != c.domain {
		FilteredEventsTotal.Inc()
		return nil
	}

	applied, err := c.cache.UpsertIfNewer(ctx, &Entity{
		ID:            ev.ID,
		Domain:        ev.Domain,
		SourceVersion: ev.SourceVersion,
		Payload:       ev.Fields,
		SyncState:     StateSynced,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !applied {
		StaleUpdatesTotal.Inc()
		c.logger.Debug("dropped out-of-order entity update",
			"entity_id", ev.ID, "source_version", ev.SourceVersion)
		return nil
	}

	// A push update satisfies any in-flight request for the same id.
	c.resolve(ev.ID, nil)
	return nil
}

// HandleSyncResponse consumes entity.sync.response events. A found
// response upserts the cache SYNCED and releases waiters; a not-found
// response marks the entry permanently absent so later reads fail fast
// without re-requesting.
func (c *Client) HandleSyncResponse(ctx context.Context, env *events.Envelope) error {
	payload, err := events.Decode(env)
	if err != nil {
		return err
	}
	resp := payload.(*events.SyncResponse)

	if !resp.Found {
		if err := c.cache.MarkAbsent(ctx, resp.TargetID); err != nil {
			return err
		}
		AbsentTotal.Inc()
		c.resolve(resp.TargetID, ErrEntityNotProvisioned)
		return nil
	}

	if resp.Domain != c.domain {
		FilteredEventsTotal.Inc()
		return nil
	}

	if _, err := c.cache.UpsertIfNewer(ctx, &Entity{
		ID:            resp.TargetID,
		Domain:        resp.Domain,
		SourceVersion: resp.SourceVersion,
		Payload:       resp.Entity,
		SyncState:     StateSynced,
		UpdatedAt:     time.Now().UTC(),
	}); err != nil {
		return err
	}

	ResponsesTotal.Inc()
	c.resolve(resp.TargetID, nil)
	return nil
}
