package subscription

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kivuli/bizsync/internal/pricing"
)

// Handler provides HTTP endpoints for subscription operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new subscription handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/subscriptions/owner/:ownerId", h.GetActive)
	r.GET("/subscriptions/owner/:ownerId/history", h.ListByOwner)
	r.GET("/subscriptions/tiers", h.ListTiers)
}

// RegisterProtectedRoutes sets up auth-required subscription routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/subscriptions/activate", h.Activate)
	r.POST("/subscriptions/deactivate", h.Deactivate)
}

// RegisterAdminRoutes sets up admin-only subscription routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/subscriptions/:id/transition", h.Transition)
	r.POST("/subscriptions/sweep", h.Sweep)
}

// GetActive handles GET /v1/subscriptions/owner/:ownerId
func (h *Handler) GetActive(c *gin.Context) {
	sub, err := h.service.GetActive(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No active subscription for this owner",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ListByOwner handles GET /v1/subscriptions/owner/:ownerId/history
func (h *Handler) ListByOwner(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	subs, err := h.service.ListByOwner(c.Request.Context(), c.Param("ownerId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// ListTiers handles GET /v1/subscriptions/tiers
func (h *Handler) ListTiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": pricing.Tiers})
}

type activateRequest struct {
	OwnerID   string `json:"ownerId" binding:"required"`
	OwnerType string `json:"ownerType" binding:"required"`
	TierID    string `json:"tierId" binding:"required"`
	ChangedBy string `json:"changedBy"`
}

// Activate handles POST /v1/subscriptions/activate
func (h *Handler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.ChangedBy == "" {
		req.ChangedBy = req.OwnerID
	}

	sub, err := h.service.Activate(c.Request.Context(), req.OwnerID, req.OwnerType, req.TierID, req.ChangedBy)
	if err != nil {
		if errors.Is(err, pricing.ErrUnknownTier) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_tier",
				"message": "No such tier: " + req.TierID,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sub)
}

type deactivateRequest struct {
	OwnerID   string `json:"ownerId" binding:"required"`
	ChangedBy string `json:"changedBy"`
	Reason    string `json:"reason"`
}

// Deactivate handles POST /v1/subscriptions/deactivate
func (h *Handler) Deactivate(c *gin.Context) {
	var req deactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.ChangedBy == "" {
		req.ChangedBy = req.OwnerID
	}

	sub, err := h.service.Deactivate(c.Request.Context(), req.OwnerID, req.ChangedBy, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No active subscription for this owner",
			})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, sub)
}

type transitionRequest struct {
	To        string `json:"to" binding:"required"`
	ChangedBy string `json:"changedBy" binding:"required"`
	Reason    string `json:"reason"`
}

// Transition handles POST /v1/admin/subscriptions/:id/transition for
// administrative moves (SUSPENDED, CANCELLED, back to ACTIVE from
// SUSPENDED). Illegal moves return 409.
func (h *Handler) Transition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	sub, err := h.service.Transition(c.Request.Context(), c.Param("id"), Status(req.To), req.ChangedBy, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No such subscription"})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Sweep handles POST /v1/admin/subscriptions/sweep: a manual run of the
// expiration sweep, useful in operations and tests.
func (h *Handler) Sweep(c *gin.Context) {
	count, err := h.service.ExpireDue(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": count})
}
