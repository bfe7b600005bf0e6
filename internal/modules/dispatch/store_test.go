package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisReminderGuard_ClaimsOnce(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	g := NewRedisReminderGuard(client)
	ctx := context.Background()

	ok, err := g.Claim(ctx, "T1:100", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Claim(ctx, "T1:100", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = g.Claim(ctx, "T1:100", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "claim should be available again after the ttl")
}

func TestMemoryReminderGuard_Expires(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	g := NewMemoryReminderGuard(func() time.Time { return now })
	ctx := context.Background()

	ok, _ := g.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)
	ok, _ = g.Claim(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = g.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)
}
