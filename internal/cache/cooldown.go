package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldown claims a contract class with SET NX and a TTL equal to the
// cooldown window. The key expiring ends the cooldown.
type RedisCooldown struct {
	rdb    redis.UniversalClient
	window time.Duration
}

func NewRedisCooldown(rdb redis.UniversalClient, window time.Duration) *RedisCooldown {
	return &RedisCooldown{rdb: rdb, window: window}
}

func cooldownKey(class string) string {
	return "listing:cooldown:" + class
}

func (c *RedisCooldown) Acquire(ctx context.Context, contractClass string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, cooldownKey(contractClass), time.Now().UnixMicro(), c.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire cooldown %s: %w", contractClass, err)
	}
	return ok, nil
}

func (c *RedisCooldown) Release(ctx context.Context, contractClass string) error {
	if err := c.rdb.Del(ctx, cooldownKey(contractClass)).Err(); err != nil {
		return fmt.Errorf("redis: release cooldown %s: %w", contractClass, err)
	}
	return nil
}

// MemoryCooldown is the single-process implementation.
type MemoryCooldown struct {
	mu      sync.Mutex
	window  time.Duration
	claimed map[string]time.Time // class -> end of cooldown
	now     func() time.Time
}

func NewMemoryCooldown(window time.Duration) *MemoryCooldown {
	return &MemoryCooldown{
		window:  window,
		claimed: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock replaces the wall clock; tests only.
func (c *MemoryCooldown) WithClock(now func() time.Time) *MemoryCooldown {
	c.now = now
	return c
}

func (c *MemoryCooldown) Acquire(_ context.Context, contractClass string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if until, ok := c.claimed[contractClass]; ok && now.Before(until) {
		return false, nil
	}
	c.claimed[contractClass] = now.Add(c.window)
	return true, nil
}

func (c *MemoryCooldown) Release(_ context.Context, contractClass string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimed, contractClass)
	return nil
}
