package revocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kivuli/bizsync/internal/circuitbreaker"
	"github.com/kivuli/bizsync/internal/retry"
)

const breakerKey = "revocation-authority"

// Checker answers whether a token has been revoked.
type Checker interface {
	IsRevoked(ctx context.Context, tokenID, ownerID string) (bool, error)
}

// Guard validates bearer tokens locally and checks them against the
// revocation authority.
type Guard struct {
	secret  []byte
	checker Checker
	policy  Policy
	logger  *slog.Logger
}

// NewGuard creates a guard with the given default policy.
func NewGuard(secret []byte, checker Checker, policy Policy, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = FailClosed
	}
	return &Guard{secret: secret, checker: checker, policy: policy, logger: logger}
}

// Policy returns the guard's default failure policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Validate parses and verifies the token signature locally. Malformed or
// badly-signed tokens always fail, regardless of policy.
func (g *Guard) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Check runs the full two-step check under the given policy. It returns
// the claims when the request may proceed; ErrTokenRevoked on a definite
// revocation; ErrAuthorityUnavailable when the authority failed and the
// policy is fail-closed.
func (g *Guard) Check(ctx context.Context, tokenString string, policy Policy) (*Claims, error) {
	claims, err := g.Validate(tokenString)
	if err != nil {
		ChecksTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	revoked, err := g.checker.IsRevoked(ctx, claims.TokenID(), claims.Subject)
	if err != nil {
		if policy == FailOpen {
			ChecksTotal.WithLabelValues("unavailable_open").Inc()
			g.logger.Warn("revocation authority unavailable, failing open",
				"token_id", claims.TokenID(), "error", err)
			return claims, nil
		}
		ChecksTotal.WithLabelValues("unavailable_closed").Inc()
		g.logger.Warn("revocation authority unavailable, failing closed",
			"token_id", claims.TokenID(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	if revoked {
		ChecksTotal.WithLabelValues("revoked").Inc()
		return nil, ErrTokenRevoked
	}

	ChecksTotal.WithLabelValues("ok").Inc()
	return claims, nil
}

// RemoteChecker asks the authority service over HTTP, with retry against
// transient failures and a circuit breaker so a dead authority does not
// eat the full timeout on every request.
type RemoteChecker struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewRemoteChecker creates a checker against the authority's base URL.
func NewRemoteChecker(url string) *RemoteChecker {
	return &RemoteChecker{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type checkRequest struct {
	TokenID string `json:"tokenId"`
	OwnerID string `json:"ownerId"`
}

type checkResponse struct {
	Revoked bool `json:"revoked"`
}

func (r *RemoteChecker) IsRevoked(ctx context.Context, tokenID, ownerID string) (bool, error) {
	if !r.breaker.Allow(breakerKey) {
		return false, fmt.Errorf("%w: circuit open", ErrAuthorityUnavailable)
	}

	body, err := json.Marshal(checkRequest{TokenID: tokenID, OwnerID: ownerID})
	if err != nil {
		return false, err
	}

	var revoked bool
	err = retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			r.url+"/revocation/check", bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("authority returned %d", resp.StatusCode)
		}

		var out checkResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		revoked = out.Revoked
		return nil
	})
	if err != nil {
		r.breaker.RecordFailure(breakerKey)
		return false, err
	}

	r.breaker.RecordSuccess(breakerKey)
	return revoked, nil
}
