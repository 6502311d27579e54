package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kivuli/bizsync/internal/pricing"
)

// Handler provides HTTP endpoints for token ledger operations.
type Handler struct {
	engine *Engine
	store  Store
}

// NewHandler creates a new ledger handler. The store is only used for
// the reconcile surface; all mutation goes through the engine.
func NewHandler(engine *Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store}
}

// RegisterRoutes sets up public (read-only) token routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tokens/:ownerId/balance", h.GetBalance)
	r.GET("/tokens/:ownerId/history", h.GetHistory)
}

// RegisterProtectedRoutes sets up auth-required token routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/tokens/purchase", h.Purchase)
	r.POST("/tokens/use", h.Use)
}

// RegisterAdminRoutes sets up admin-only token routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tokens/:ownerId/reconcile", h.Reconcile)
}

// GetBalance handles GET /v1/tokens/:ownerId/balance
func (h *Handler) GetBalance(c *gin.Context) {
	bal, err := h.engine.Balance(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// GetHistory handles GET /v1/tokens/:ownerId/history
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.engine.History(c.Request.Context(), c.Param("ownerId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

type purchaseRequest struct {
	OwnerID   string `json:"ownerId" binding:"required"`
	OwnerType string `json:"ownerType" binding:"required"`
	PackageID string `json:"packageId" binding:"required"`
}

// Purchase handles POST /v1/tokens/purchase. The credited amount comes
// from the package catalogue, never from the request.
func (h *Handler) Purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	amount, err := pricing.PackageTokens(req.PackageID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_package",
			"message": "No such token package: " + req.PackageID,
		})
		return
	}

	bal, err := h.engine.Credit(c.Request.Context(), req.OwnerID, OwnerType(req.OwnerType), amount, req.PackageID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrInvalidOwnerType) || errors.Is(err, ErrInvalidAmount) {
			status = http.StatusBadRequest
			code = "invalid_request"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, bal)
}

type useRequest struct {
	OwnerID string `json:"ownerId" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
	Reason  string `json:"reason"`
}

// Use handles POST /v1/tokens/use
func (h *Handler) Use(c *gin.Context) {
	var req useRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	bal, err := h.engine.Debit(c.Request.Context(), req.OwnerID, req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "insufficient_balance",
				"message": "Token balance too low for this operation.",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, bal)
}

// Reconcile handles GET /v1/admin/tokens/:ownerId/reconcile: replays the
// owner's full history and compares against the stored balance.
func (h *Handler) Reconcile(c *gin.Context) {
	result, err := Reconcile(c.Request.Context(), h.store, c.Param("ownerId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
