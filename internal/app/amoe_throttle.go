package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// GenerateThrottle admits or refuses a user's request for a new AMOE code.
// A refusal is domain.ErrAmoeRateLimited; any other error means the throttle
// could not decide.
type GenerateThrottle interface {
	AdmitGenerate(ctx context.Context, userID uuid.UUID) error
}

// admitScript counts one request against the bucket key. It returns 0 when the
// request fits under ARGV[2], otherwise the milliseconds until the bucket resets.
var admitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if n <= tonumber(ARGV[2]) then
  return 0
end
local reset = redis.call("PTTL", KEYS[1])
if reset < 1 then
  reset = tonumber(ARGV[1])
end
return reset
`)

// RedisGenerateThrottle allows perWindow code requests per user in each
// aligned window. Every window gets its own key, so counts never carry over.
type RedisGenerateThrottle struct {
	client    redis.UniversalClient
	prefix    string
	perWindow int
	window    time.Duration
	now       func() time.Time
}

func NewRedisGenerateThrottle(client redis.UniversalClient, prefix string, perMinute int) *RedisGenerateThrottle {
	return &RedisGenerateThrottle{
		client:    client,
		prefix:    redisPrefix(prefix) + ":" + amoeGenerateRateScope,
		perWindow: perMinute,
		window:    time.Minute,
		now:       time.Now,
	}
}

func (t *RedisGenerateThrottle) bucketKey(userID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", t.prefix, userID, at.UnixMilli()/t.window.Milliseconds())
}

func (t *RedisGenerateThrottle) AdmitGenerate(ctx context.Context, userID uuid.UUID) error {
	if t == nil || t.client == nil || t.perWindow <= 0 {
		return nil
	}
	resetMs, err := admitScript.Run(ctx, t.client, []string{t.bucketKey(userID, t.now())}, t.window.Milliseconds(), t.perWindow).Int64()
	if err != nil {
		return fmt.Errorf("amoe generate throttle: %w", err)
	}
	return refusal(resetMs)
}

// refusal turns the script's reply into the caller-facing error.
func refusal(resetMs int64) error {
	if resetMs <= 0 {
		return nil
	}
	seconds := (resetMs + 999) / 1000
	return domain.ErrAmoeRateLimited.WithMessage("too many amoe code requests, retry in %ds", seconds)
}
