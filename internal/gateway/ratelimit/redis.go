package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript checks every tier first and increments only if all have room.
// KEYS[i] is the counter for tier i; ARGV holds limit and window (ms) pairs.
// Returns {allowed, violated tier index (1-based), retry ms or remaining}.
var hitScript = redis.NewScript(`
local worst = -1
local worstIdx = 0
for i = 1, #KEYS do
  local limit = tonumber(ARGV[(i - 1) * 2 + 1])
  local window = tonumber(ARGV[(i - 1) * 2 + 2])
  local count = tonumber(redis.call('GET', KEYS[i]) or '0')
  if count + 1 > limit then
    local ttl = redis.call('PTTL', KEYS[i])
    if ttl < 0 then ttl = window end
    if ttl > worst then
      worst = ttl
      worstIdx = i
    end
  end
end
if worstIdx > 0 then
  return {0, worstIdx, worst}
end
local remaining = -1
for i = 1, #KEYS do
  local limit = tonumber(ARGV[(i - 1) * 2 + 1])
  local window = tonumber(ARGV[(i - 1) * 2 + 2])
  local count = redis.call('INCR', KEYS[i])
  if redis.call('PTTL', KEYS[i]) < 0 then
    redis.call('PEXPIRE', KEYS[i], window)
  end
  local left = limit - count
  if remaining < 0 or left < remaining then
    remaining = left
  end
end
return {1, 0, remaining}
`)

// RedisStore keeps counters in Redis so that every gateway instance behind a
// load balancer enforces the same limits. Window expiry is handled by key
// TTLs, so the now argument of Hit is ignored.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, tiers []Tier, _ time.Time) (Decision, error) {
	keys := make([]string, len(tiers))
	args := make([]interface{}, 0, len(tiers)*2)
	for i, t := range tiers {
		// Hash tag keeps one client's tiers in the same cluster slot.
		keys[i] = fmt.Sprintf("%s:{%s}:%s", s.prefix, key, t.Name)
		args = append(args, t.Limit, t.Window.Milliseconds())
	}

	res, err := hitScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis hit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis hit %s: unexpected reply %v", key, res)
	}

	if res[0] == 1 {
		return Decision{Allowed: true, Remaining: int(res[2])}, nil
	}
	idx := int(res[1]) - 1
	if idx < 0 || idx >= len(tiers) {
		return Decision{}, fmt.Errorf("redis hit %s: tier index %d out of range", key, idx+1)
	}
	return Decision{
		Tier:       tiers[idx].Name,
		Limit:      tiers[idx].Limit,
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
