package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimiter(rpm, burst int) *Limiter {
	return New(Config{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour, // keep the sweeper quiet during tests
	})
}

func TestAllowWithinBurst(t *testing.T) {
	l := newLimiter(60, 5)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("client"), "request %d should pass", i)
	}
	assert.False(t, l.Allow("client"), "burst exhausted")
}

func TestRefillOverTime(t *testing.T) {
	l := newLimiter(6000, 2) // 100 tokens/sec
	defer l.Stop()

	require.True(t, l.Allow("client"))
	require.True(t, l.Allow("client"))
	require.False(t, l.Allow("client"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Allow("client"), "bucket refilled")
}

func TestClientsIsolated(t *testing.T) {
	l := newLimiter(60, 1)
	defer l.Stop()

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "b has its own bucket")
}

func TestDefaultsApplied(t *testing.T) {
	l := New(Config{})
	defer l.Stop()

	assert.Equal(t, DefaultConfig().RequestsPerMinute, l.cfg.RequestsPerMinute)
	assert.Equal(t, DefaultConfig().BurstSize, l.cfg.BurstSize)
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	l := newLimiter(60, 1)
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestMiddlewareKeysByBearerToken(t *testing.T) {
	l := newLimiter(60, 1)
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// exhaust the anonymous bucket
	w := httptest.NewRecorder()
	anon := httptest.NewRequest("GET", "/ping", nil)
	r.ServeHTTP(w, anon)
	require.Equal(t, http.StatusOK, w.Code)

	// a tokened request draws from a separate bucket
	w = httptest.NewRecorder()
	authed := httptest.NewRequest("GET", "/ping", nil)
	authed.Header.Set("Authorization", "Bearer some-token-value")
	r.ServeHTTP(w, authed)
	assert.Equal(t, http.StatusOK, w.Code)
}
