package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FireGuard claims the firing of one automation for one tick so that
// duplicate scheduler messages for the same minute trigger it only once
type FireGuard interface {
	// Claim returns false when the firing was already claimed
	Claim(ctx context.Context, automationID string, tick time.Time) (bool, error)
	// Release gives a claim back, e.g. after a failed trigger
	Release(ctx context.Context, automationID string, tick time.Time) error
}

// NopGuard claims every firing. Duplicate ticks fire again.
type NopGuard struct{}

// Claim always succeeds
func (NopGuard) Claim(context.Context, string, time.Time) (bool, error) {
	return true, nil
}

// Release does nothing
func (NopGuard) Release(context.Context, string, time.Time) error {
	return nil
}

// RedisGuard stores claims as expiring Redis keys
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a guard whose claims expire after ttl
func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

// Claim sets the claim key if it does not exist yet
func (g *RedisGuard) Claim(ctx context.Context, automationID string, tick time.Time) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(automationID, tick), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release deletes the claim key
func (g *RedisGuard) Release(ctx context.Context, automationID string, tick time.Time) error {
	if err := g.client.Del(ctx, g.key(automationID, tick)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (g *RedisGuard) key(automationID string, tick time.Time) string {
	return g.prefix + automationID + ":" + tick.UTC().Truncate(time.Minute).Format("200601021504")
}
