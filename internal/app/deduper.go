package app

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper guards against processing the same broker event twice.
type EventDeduper interface {
	// Claim reports whether the caller is the first to see eventID.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets eventID so a redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}

// RedisEventDeduper keeps one SET NX key per event id for ttl.
type RedisEventDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisEventDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisEventDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisEventDeduper{client: client, prefix: redisPrefix(prefix) + ":event", ttl: ttl}
}

func (d *RedisEventDeduper) key(eventID string) string {
	return d.prefix + ":" + eventID
}

func (d *RedisEventDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if d == nil || d.client == nil || eventID == "" {
		return true, nil
	}
	return d.client.SetNX(ctx, d.key(eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

func (d *RedisEventDeduper) Release(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if d == nil || d.client == nil || eventID == "" {
		return nil
	}
	return d.client.Del(ctx, d.key(eventID)).Err()
}

func redisPrefix(prefix string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "neonplay:ledger"
	}
	return trimmed
}
