package revocation

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ListStore is the authority's revocation list. It satisfies Checker, so
// a service of record can check its own list in-process without the HTTP
// round trip.
type ListStore interface {
	Checker
	Revoke(ctx context.Context, tokenID, ownerID, reason string) error
}

// MemoryList is an in-memory ListStore for development and tests.
type MemoryList struct {
	mu      sync.RWMutex
	revoked map[string]string // tokenID -> reason
}

// NewMemoryList creates an in-memory revocation list.
func NewMemoryList() *MemoryList {
	return &MemoryList{revoked: make(map[string]string)}
}

func (m *MemoryList) Revoke(ctx context.Context, tokenID, ownerID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenID] = reason
	return nil
}

func (m *MemoryList) IsRevoked(ctx context.Context, tokenID, ownerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[tokenID]
	return ok, nil
}

// Compile-time check that PostgresList implements ListStore.
var _ ListStore = (*PostgresList)(nil)

// PostgresList implements ListStore backed by PostgreSQL.
type PostgresList struct {
	db *sql.DB
}

// NewPostgresList creates a new PostgreSQL-backed revocation list.
func NewPostgresList(db *sql.DB) *PostgresList {
	return &PostgresList{db: db}
}

func (p *PostgresList) Revoke(ctx context.Context, tokenID, ownerID, reason string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_id, owner_id, reason, revoked_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token_id) DO NOTHING
	`, tokenID, ownerID, reason)
	if err != nil {
		return fmt.Errorf("insert revocation: %w", err)
	}
	return nil
}

func (p *PostgresList) IsRevoked(ctx context.Context, tokenID, ownerID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `
		SELECT 1 FROM revoked_tokens WHERE token_id = $1
	`, tokenID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Handler serves the authority endpoints.
type Handler struct {
	list ListStore
}

// NewHandler creates the authority handler.
func NewHandler(list ListStore) *Handler {
	return &Handler{list: list}
}

// RegisterRoutes mounts the authority endpoints on the router group.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/revocation/check", h.Check)
	r.POST("/revocation/revoke", h.Revoke)
}

type revokeRequest struct {
	TokenID string `json:"tokenId" binding:"required"`
	OwnerID string `json:"ownerId"`
	Reason  string `json:"reason"`
}

// Check answers POST /revocation/check with {"revoked": bool}.
func (h *Handler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.TokenID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tokenId is required"})
		return
	}

	revoked, err := h.list.IsRevoked(c.Request.Context(), req.TokenID, req.OwnerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "revocation lookup failed"})
		return
	}

	c.JSON(http.StatusOK, checkResponse{Revoked: revoked})
}

// Revoke adds a token to the revocation list.
func (h *Handler) Revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if err := h.list.Revoke(c.Request.Context(), req.TokenID, req.OwnerID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "revocation failed"})
		return
	}

	RevocationsTotal.Inc()
	c.JSON(http.StatusOK, gin.H{
		"tokenId":   req.TokenID,
		"revokedAt": time.Now().UTC(),
	})
}
