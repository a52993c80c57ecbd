package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Tracker records which sessions have completed at least one turn.
type Tracker interface {
	HasSeenFirstTurn(ctx context.Context, sessionID string) (bool, error)
	MarkSeen(ctx context.Context, sessionID string) error
	// CheckAndMark atomically marks the session seen and reports whether this
	// call was the one that did it.
	CheckAndMark(ctx context.Context, sessionID string) (first bool, err error)
	Close() error
}

// Pinger is implemented by trackers backed by an external store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type StoreType string

const (
	StoreMemory   StoreType = "memory"
	StoreRedis    StoreType = "redis"
	StorePostgres StoreType = "postgres"
)

var (
	ErrInvalidStoreType = errors.New("invalid session store type")
	ErrEmptySessionID   = errors.New("empty session id")
)

// Config selects and sizes the tracker backend.
type Config struct {
	Store       StoreType
	TTL         time.Duration
	MaxEntries  int
	RedisURL    string
	DatabaseURL string
}

// NewTracker builds the configured backend. External backends verify
// connectivity before returning.
func NewTracker(ctx context.Context, cfg Config) (Tracker, error) {
	switch StoreType(strings.ToLower(strings.TrimSpace(string(cfg.Store)))) {
	case "", StoreMemory:
		return NewMemoryTracker(cfg.TTL, cfg.MaxEntries), nil
	case StoreRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, errors.New("REDIS_URL is required for redis session store")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		t := NewRedisTracker(redis.NewClient(opts), cfg.TTL)
		if err := t.Ping(ctx); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return t, nil
	case StorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("DATABASE_URL is required for postgres session store")
		}
		return NewPostgresTracker(ctx, cfg.DatabaseURL, cfg.TTL)
	default:
		return nil, fmt.Errorf("%w: %q (expected memory|redis|postgres)", ErrInvalidStoreType, cfg.Store)
	}
}

// NewID returns an identifier for callers that did not supply one. The millisecond
// prefix keeps ids sortable by creation time; the UUID suffix keeps ids minted in
// the same millisecond distinct.
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("sess-%d-%s", now.UnixMilli(), suffix)
}

func validID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySessionID
	}
	return nil
}
