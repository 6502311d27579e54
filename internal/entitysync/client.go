package entitysync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kivuli/bizsync/internal/events"
	"github.com/kivuli/bizsync/internal/idgen"
	"github.com/kivuli/bizsync/internal/traces"
)

const (
	// DefaultWaitTimeout bounds Wait when the caller's context has no
	// earlier deadline.
	DefaultWaitTimeout = 10 * time.Second
	// DefaultRequestTTL bounds how long a pending request stays open
	// before the janitor retires it.
	DefaultRequestTTL = 30 * time.Second
)

// pending is one outstanding sync request. done closes exactly once,
// after which err is safe to read.
type pending struct {
	requestID string
	createdAt time.Time
	done      chan struct{}
	err       error
}

// Client resolves remotely-owned entities through the cache, issuing
// sync requests on misses and consuming the response stream.
type Client struct {
	cache       CacheStore
	bus         events.Publisher
	domain      string
	serviceName string
	waitTimeout time.Duration
	requestTTL  time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	pend    map[string]*pending
	stopJan chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithWaitTimeout overrides the default Wait deadline.
func WithWaitTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.waitTimeout = d }
}

// WithRequestTTL overrides how long pending requests stay open.
func WithRequestTTL(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTTL = d }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a sync client for one entity domain. Events tagged
// with any other domain are never materialized.
func NewClient(cache CacheStore, bus events.Publisher, domain, serviceName string, opts ...ClientOption) *Client {
	c := &Client{
		cache:       cache,
		bus:         bus,
		domain:      domain,
		serviceName: serviceName,
		waitTimeout: DefaultWaitTimeout,
		requestTTL:  DefaultRequestTTL,
		logger:      slog.Default(),
		pend:        make(map[string]*pending),
		stopJan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached entity or, on a miss, registers one sync
// request and fails fast with ErrEntitySyncing. It never blocks on the
// remote source.
func (c *Client) Get(ctx context.Context, id string) (*Entity, error) {
	ctx, span := traces.StartSpan(ctx, "entitysync.Get", traces.EntityID(id))
	defer span.End()

	e, err := c.cache.Get(ctx, id)
	if err == ErrNotFound {
		return nil, c.request(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	switch e.SyncState {
	case StateSynced:
		return e, nil
	case StateAbsent:
		return nil, ErrEntityNotProvisioned
	case StateStale:
		return nil, c.request(ctx, id)
	default: // PENDING
		// Re-register in case the pending tracker lost the request
		// across a restart; request dedupes per target.
		return nil, c.request(ctx, id)
	}
}

// Wait blocks until the entity resolves, the source confirms it absent,
// or the deadline fires. A miss issues the sync request first.
func (c *Client) Wait(ctx context.Context, id string) (*Entity, error) {
	e, err := c.Get(ctx, id)
	if err != ErrEntitySyncing {
		return e, err
	}

	c.mu.Lock()
	p := c.pend[id]
	c.mu.Unlock()
	if p == nil {
		// Response landed between Get and here.
		return c.Get(ctx, id)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.waitTimeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		WaitTimeoutsTotal.Inc()
		return nil, ErrSyncTimeout
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		return c.Get(ctx, id)
	}
}

// request registers a pending entry and publishes a sync request,
// deduplicating per target: concurrent misses for the same id produce
// one outstanding request. Always returns ErrEntitySyncing.
func (c *Client) request(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, ok := c.pend[id]; ok {
		c.mu.Unlock()
		return ErrEntitySyncing
	}
	p := &pending{
		requestID: idgen.WithPrefix("req_"),
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	c.pend[id] = p
	c.mu.Unlock()

	if _, err := c.cache.UpsertIfNewer(ctx, &Entity{
		ID:        id,
		Domain:    c.domain,
		SyncState: StatePending,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		c.logger.Warn("failed to record pending entity", "entity_id", id, "error", err)
	}

	RequestsTotal.Inc()
	err := c.bus.Publish(ctx, events.TopicEntitySyncRequest, &events.SyncRequest{
		RequestID:   p.requestID,
		TargetID:    id,
		RequestedBy: c.serviceName,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("failed to publish sync request", "entity_id", id, "error", err)
	}

	return ErrEntitySyncing
}

// resolve retires the pending entry for id and releases all waiters
// with the given error (nil means the entity is now cached).
func (c *Client) resolve(id string, resultErr error) {
	c.mu.Lock()
	p, ok := c.pend[id]
	if ok {
		delete(c.pend, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.err = resultErr
	close(p.done)
}

// StartJanitor runs the pending-request TTL loop. Requests older than
// the TTL are retired: their cache entries go STALE so the next read
// re-requests, and waiters release with ErrSyncTimeout.
func (c *Client) StartJanitor(ctx context.Context) {
	ticker := time.NewTicker(c.requestTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopJan:
			return
		case <-ticker.C:
			c.sweepPending(ctx)
		}
	}
}

// StopJanitor signals the janitor to stop.
func (c *Client) StopJanitor() {
	select {
	case c.stopJan <- struct{}{}:
	default:
	}
}

func (c *Client) sweepPending(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.requestTTL)

	c.mu.Lock()
	var expired []string
	for id, p := range c.pend {
		if p.createdAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	c.mu.Unlock()

	for _, id := range expired {
		c.logger.Warn("sync request expired without response", "entity_id", id)
		if err := c.cache.SetState(ctx, id, StateStale); err != nil && err != ErrNotFound {
			c.logger.Warn("failed to mark entity stale", "entity_id", id, "error", err)
		}
		c.resolve(id, ErrSyncTimeout)
		RequestExpiriesTotal.Inc()
	}
}
