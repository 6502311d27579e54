package revocation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyOwnerID is the gin context key for the token's subject.
	ContextKeyOwnerID = "authOwnerID"
	// ContextKeyTokenID is the gin context key for the token identifier.
	ContextKeyTokenID = "authTokenID"
)

// Middleware runs the full revocation check under the guard's default
// policy and aborts unauthorized requests.
func Middleware(g *Guard) gin.HandlerFunc {
	return middleware(g, g.Policy())
}

// MiddlewareWithPolicy overrides the failure policy for a route group.
// Use FailOpen only on read-only, low-risk endpoints.
func MiddlewareWithPolicy(g *Guard, policy Policy) gin.HandlerFunc {
	return middleware(g, policy)
}

func middleware(g *Guard, policy Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required.",
			})
			return
		}

		claims, err := g.Check(c.Request.Context(), token, policy)
		if err != nil {
			status := http.StatusUnauthorized
			message := "Invalid token."
			switch {
			case errors.Is(err, ErrTokenRevoked):
				message = "Token has been revoked."
			case errors.Is(err, ErrAuthorityUnavailable):
				status = http.StatusServiceUnavailable
				message = "Authorization temporarily unavailable."
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "unauthorized", "message": message})
			return
		}

		c.Set(ContextKeyOwnerID, claims.Subject)
		c.Set(ContextKeyTokenID, claims.TokenID())
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// OwnerID returns the authenticated owner from the gin context.
func OwnerID(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyOwnerID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
