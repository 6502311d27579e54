package entitysync

import (
	"context"
	"log/slog"
	"time"

	"github.com/kivuli/bizsync/internal/events"
)

// Source is the authoritative lookup a Responder answers from. Any
// CacheStore satisfies it; Get returns ErrNotFound for entities that do
// not exist.
type Source interface {
	Get(ctx context.Context, id string) (*Entity, error)
}

// Responder is the owning-service side of the sync protocol: it answers
// entity.sync.request events from the authoritative source, including
// definitive not-found responses so requesters stop retrying.
type Responder struct {
	source Source
	bus    events.Publisher
	logger *slog.Logger
}

// NewResponder creates a sync responder over the given source.
func NewResponder(source Source, bus events.Publisher, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{source: source, bus: bus, logger: logger}
}

// Attach subscribes the responder on the consumer.
func (r *Responder) Attach(consumer events.Consumer) {
	consumer.Subscribe(events.TopicEntitySyncRequest, r.HandleSyncRequest)
}

// HandleSyncRequest answers one sync request. Lookup failures other than
// not-found return an error so the message is counted and skipped; the
// requester's TTL handles the missed response.
func (r *Responder) HandleSyncRequest(ctx context.Context, env *events.Envelope) error {
	payload, err := events.Decode(env)
	if err != nil {
		return err
	}
	req := payload.(*events.SyncRequest)

	resp := &events.SyncResponse{
		RequestID: req.RequestID,
		TargetID:  req.TargetID,
		Timestamp: time.Now().UTC(),
	}

	e, err := r.source.Get(ctx, req.TargetID)
	switch {
	case err == ErrNotFound:
		// Found stays false: a definitive absence response.
	case err != nil:
		return err
	default:
		resp.Found = true
		resp.Domain = e.Domain
		resp.SourceVersion = e.SourceVersion
		resp.Entity = e.Payload
	}

	return r.bus.Publish(ctx, events.TopicEntitySyncResponse, resp)
}
