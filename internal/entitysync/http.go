package entitysync

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kivuli/bizsync/internal/events"
)

// Handler provides HTTP endpoints over the sync client and, when the
// service owns entities, over the authoritative source.
type Handler struct {
	client *Client
	source CacheStore // authoritative records this service owns; nil if none
	bus    events.Publisher
	domain string
}

// NewHTTPHandler creates the entity handler. source and bus may be nil
// for a consume-only service.
func NewHTTPHandler(client *Client, source CacheStore, bus events.Publisher, domain string) *Handler {
	return &Handler{client: client, source: source, bus: bus, domain: domain}
}

// RegisterRoutes sets up entity read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/entities/:id", h.Get)
}

// RegisterAdminRoutes sets up the owning-side entity routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PUT("/entities/:id", h.Upsert)
}

// Get handles GET /v1/entities/:id. With ?wait=true the request
// suspends until the entity resolves or the sync deadline fires;
// otherwise a cache miss answers 202 immediately.
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var e *Entity
	var err error
	if c.Query("wait") == "true" {
		e, err = h.client.Wait(ctx, id)
	} else {
		e, err = h.client.Get(ctx, id)
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrEntitySyncing), errors.Is(err, ErrSyncTimeout):
			c.JSON(http.StatusAccepted, gin.H{
				"status":  "syncing",
				"message": "Entity is being synchronized; retry shortly.",
			})
		case errors.Is(err, ErrEntityNotProvisioned):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_provisioned",
				"message": "Entity does not exist upstream.",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, e)
}

type upsertRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// Upsert handles PUT /v1/admin/entities/:id: writes the authoritative
// record and pushes an entity.updated event so consumers converge
// without waiting for a sync request.
func (h *Handler) Upsert(c *gin.Context) {
	if h.source == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "This service does not own entities.",
		})
		return
	}

	var req upsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	id := c.Param("id")
	now := time.Now().UTC()
	e := &Entity{
		ID:            id,
		Domain:        h.domain,
		SourceVersion: now,
		Payload:       req.Payload,
		SyncState:     StateSynced,
		UpdatedAt:     now,
	}

	created := false
	if _, err := h.source.Get(c.Request.Context(), id); err == ErrNotFound {
		created = true
	}

	if _, err := h.source.UpsertIfNewer(c.Request.Context(), e); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	topic := events.TopicEntityUpdated
	if created {
		topic = events.TopicEntityCreated
	}
	if h.bus != nil {
		if err := h.bus.Publish(c.Request.Context(), topic, &events.EntityEvent{
			ID:            id,
			Domain:        h.domain,
			SourceVersion: now,
			Fields:        req.Payload,
			Timestamp:     now,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, e)
}
