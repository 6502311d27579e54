package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"), "unknown levels default to info")
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewLevelGating(t *testing.T) {
	debug := New("debug", "text")
	require.NotNil(t, debug)
	assert.True(t, debug.Enabled(context.Background(), slog.LevelDebug))

	quiet := New("error", "json")
	require.NotNil(t, quiet)
	assert.False(t, quiet.Enabled(context.Background(), slog.LevelInfo))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestID(ctx))

	ctx = WithRequestID(ctx, "req-456")
	assert.Equal(t, "req-456", RequestID(ctx), "later id wins")
}

func TestContextLogger(t *testing.T) {
	ctx := context.Background()
	require.NotNil(t, FromContext(ctx), "falls back to slog.Default")

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	assert.Same(t, custom, FromContext(ctx))
}

func TestLAttachesRequestID(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	require.NotNil(t, L(ctx))

	ctx = WithRequestID(ctx, "req-789")
	require.NotNil(t, L(ctx))
}
