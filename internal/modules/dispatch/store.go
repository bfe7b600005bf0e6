// README: Reminder de-duplication guards (Redis SETNX, in-memory fallback).
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const reminderKeyPrefix = "dispatch:reminders:"

// RedisReminderGuard claims reminder keys with SETNX so restarts and replicas
// never send the same reminder twice.
type RedisReminderGuard struct {
	redis *redis.Client
}

func NewRedisReminderGuard(redis *redis.Client) *RedisReminderGuard {
	return &RedisReminderGuard{redis: redis}
}

func (g *RedisReminderGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.redis.SetNX(ctx, reminderKeyPrefix+key, 1, ttl).Result()
}

// MemoryReminderGuard is the process-local guard used when Redis is absent.
type MemoryReminderGuard struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryReminderGuard(now func() time.Time) *MemoryReminderGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryReminderGuard{expires: make(map[string]time.Time), now: now}
}

func (g *MemoryReminderGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, exp := range g.expires {
		if !exp.After(now) {
			delete(g.expires, k)
		}
	}
	if _, ok := g.expires[key]; ok {
		return false, nil
	}
	g.expires[key] = now.Add(ttl)
	return true, nil
}
