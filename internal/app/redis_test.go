package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisHelpers_WithoutClientAreNoops(t *testing.T) {
	ctx := context.Background()

	throttle := NewRedisGenerateThrottle(nil, "", 10)
	assert.NoError(t, throttle.AdmitGenerate(ctx, uuid.New()))

	var nilThrottle *RedisGenerateThrottle
	assert.NoError(t, nilThrottle.AdmitGenerate(ctx, uuid.New()))

	dedupe := NewRedisEventDeduper(nil, "", 0)
	first, err := dedupe.Claim(ctx, "evt")
	require.NoError(t, err)
	assert.True(t, first)
	assert.NoError(t, dedupe.Release(ctx, "evt"))
	assert.Equal(t, 24*time.Hour, dedupe.ttl)
}

func TestRedisPrefix(t *testing.T) {
	assert.Equal(t, "neonplay:ledger", redisPrefix("  "))
	assert.Equal(t, "custom", redisPrefix("custom:"))
	assert.Equal(t, "custom:amoe_generate", NewRedisGenerateThrottle(nil, "custom", 10).prefix)
	assert.Equal(t, "neonplay:ledger:event:purchase.completed:e1", NewRedisEventDeduper(nil, "", time.Minute).key("purchase.completed:e1"))
}

func TestRedisGenerateThrottle_BucketKeyPerUserAndMinute(t *testing.T) {
	throttle := NewRedisGenerateThrottle(nil, "app", 10)
	userID := uuid.MustParse("8c5a0f1e-2b44-4f38-9d0a-3b7f1f0c2a11")
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	key := throttle.bucketKey(userID, start)
	assert.Equal(t, "app:amoe_generate:8c5a0f1e-2b44-4f38-9d0a-3b7f1f0c2a11:29539440", key)
	assert.Equal(t, key, throttle.bucketKey(userID, start.Add(59*time.Second)))
	assert.NotEqual(t, key, throttle.bucketKey(userID, start.Add(time.Minute)))
	assert.NotEqual(t, key, throttle.bucketKey(uuid.New(), start))
}

func TestRefusal(t *testing.T) {
	assert.NoError(t, refusal(0))
	assert.NoError(t, refusal(-1))

	err := refusal(1)
	require.ErrorIs(t, err, domain.ErrAmoeRateLimited)
	assert.Contains(t, err.Error(), "retry in 1s")

	err = refusal(60000)
	require.ErrorIs(t, err, domain.ErrAmoeRateLimited)
	assert.Contains(t, err.Error(), "retry in 60s")
}
