package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "novavoice:session:"

// RedisTracker shares first-turn state across replicas. Keys expire after the
// tracker TTL; every successful check refreshes the expiry.
type RedisTracker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisTracker(client redis.UniversalClient, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func (r *RedisTracker) key(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// HasSeenFirstTurn relies on EXPIRE reporting whether the key exists, so the
// check and the refresh are one command.
func (r *RedisTracker) HasSeenFirstTurn(ctx context.Context, sessionID string) (bool, error) {
	if err := validID(sessionID); err != nil {
		return false, err
	}
	seen, err := r.client.Expire(ctx, r.key(sessionID), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis expire: %w", err)
	}
	return seen, nil
}

func (r *RedisTracker) MarkSeen(ctx context.Context, sessionID string) error {
	if err := validID(sessionID); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(sessionID), 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CheckAndMark uses SET ... GET: the key is written with a fresh TTL either
// way and a nil reply means it did not exist before. Needs Redis 6.2.
func (r *RedisTracker) CheckAndMark(ctx context.Context, sessionID string) (bool, error) {
	if err := validID(sessionID); err != nil {
		return false, err
	}
	err := r.client.SetArgs(ctx, r.key(sessionID), 1, redis.SetArgs{TTL: r.ttl, Get: true}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("redis set get: %w", err)
	}
	return false, nil
}

func (r *RedisTracker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisTracker) Close() error {
	return r.client.Close()
}
