package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenStore shares upload rate-limit counters across server replicas
// using a fixed-window counter per client IP.
type redisTokenStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisTokenStore wraps an existing Redis client as a rate-limit token
// store. The client is owned by the caller.
func NewRedisTokenStore(client redis.UniversalClient) tokenStore {
	if client == nil {
		return nil
	}
	return &redisTokenStore{client: client, timeout: 2 * time.Second}
}

func (s *redisTokenStore) Increment(key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("increment %s: %w", key, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire %s: %w", key, err)
		}
		return count, window, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl < 0 {
		// Key exists without an expiry; reset the window so it cannot leak.
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire %s: %w", key, err)
		}
		ttl = window
	}
	return count, ttl, nil
}
