// Package cache holds the Redis-backed helpers shared by the HTTP layer.
package cache

import (
	"context"
	"fmt"
	"time"

	"invoice-automation-backend/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedis opens the cache connection and checks it answers.
func NewRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisCacheDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache.NewRedis: ping %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

const replayPrefix = "cmdsig:"

// ReplayGuard remembers signatures it has seen for ttl so a captured request
// cannot be replayed inside the timestamp window.
type ReplayGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewReplayGuard(rdb *redis.Client, ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{rdb: rdb, ttl: ttl}
}

// FirstSeen reports true the first time signature is offered.
func (g *ReplayGuard) FirstSeen(ctx context.Context, signature string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, replayPrefix+signature, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay guard: %w", err)
	}
	return ok, nil
}
