// Package redis provides a Redis-backed UsageStore for pitchiq.
//
// Usage records are Redis hashes updated by Lua scripts, so admission is
// atomic per user even when several gateway replicas share one Redis.
// Records of non-VIP users expire once two windows have passed untouched;
// an expired record is indistinguishable from a reset one.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/pitchiq"
)

// Store is a Redis-backed UsageStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var _ pitchiq.UsageStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "pitchiq:usage:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithClock sets the time source used for window resets.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new Redis-backed UsageStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "pitchiq:usage:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) userKey(userID string) string {
	return s.keyPrefix + userID
}

func (s *Store) ttl() int64 {
	return (2 * pitchiq.QuotaWindow).Milliseconds()
}

// touchLua creates the record if missing and applies the lazy window reset.
// KEYS[1] = user hash key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
const touchLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
if redis.call("EXISTS", key) == 0 then
    redis.call("HSET", key, "used", "0", "reserved", "0", "reset_at", tostring(now), "vip", "0")
end
local reset_at = tonumber(redis.call("HGET", key, "reset_at") or "0")
if now - reset_at >= window then
    redis.call("HSET", key, "used", "0", "reset_at", tostring(now))
end
local vip = redis.call("HGET", key, "vip") == "1"
`

// reserveScript atomically admits a prediction.
// ARGV[3] = free limit
// ARGV[4] = ttl (ms)
//
// Returns:
//
//	1 = reserved
//	2 = VIP, exempt
//	0 = quota exceeded
var reserveScript = goredis.NewScript(touchLua + `
if vip then
    redis.call("PERSIST", key)
    return 2
end
local used = tonumber(redis.call("HGET", key, "used") or "0")
local reserved = tonumber(redis.call("HGET", key, "reserved") or "0")
redis.call("PEXPIRE", key, tonumber(ARGV[4]))
if used + reserved >= tonumber(ARGV[3]) then
    return 0
end
redis.call("HINCRBY", key, "reserved", 1)
return 1
`)

// usageScript returns {used, reserved, reset_at, vip} after a touch.
var usageScript = goredis.NewScript(touchLua + `
if not vip then
    redis.call("PEXPIRE", key, tonumber(ARGV[3]))
end
return redis.call("HMGET", key, "used", "reserved", "reset_at", "vip")
`)

// vipScript sets the VIP flag. VIP records never expire.
// ARGV[3] = "1" or "0"
// ARGV[4] = ttl (ms)
var vipScript = goredis.NewScript(touchLua + `
redis.call("HSET", key, "vip", ARGV[3])
if ARGV[3] == "1" then
    redis.call("PERSIST", key)
else
    redis.call("PEXPIRE", key, tonumber(ARGV[4]))
end
return 1
`)

// releaseScript frees one in-flight slot, optionally counting it as used.
// KEYS[1] = user hash key
// ARGV[1] = "1" to record usage
var releaseScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    return 0
end
local reserved = tonumber(redis.call("HGET", key, "reserved") or "0")
if reserved > 0 then
    redis.call("HINCRBY", key, "reserved", -1)
end
if ARGV[1] == "1" and redis.call("HGET", key, "vip") ~= "1" then
    redis.call("HINCRBY", key, "used", 1)
end
return 1
`)

// Reserve admits a prediction or returns ErrAdmissionDenied.
func (s *Store) Reserve(ctx context.Context, userID string) (pitchiq.Reservation, error) {
	result, err := reserveScript.Run(ctx, s.client,
		[]string{s.userKey(userID)},
		s.now().UnixMilli(), pitchiq.QuotaWindow.Milliseconds(), pitchiq.FreeDailyLimit, s.ttl(),
	).Int64()
	if err != nil {
		return pitchiq.Reservation{}, fmt.Errorf("pitchiq/redis: reserve: %w", err)
	}

	switch result {
	case 1, 2:
		return pitchiq.Reservation{
			ID:     uuid.New().String(),
			UserID: userID,
			Exempt: result == 2,
		}, nil
	case 0:
		return pitchiq.Reservation{}, pitchiq.ErrAdmissionDenied
	default:
		return pitchiq.Reservation{}, fmt.Errorf("pitchiq/redis: unexpected reserve result: %d", result)
	}
}

// Commit releases the reservation and records usage.
func (s *Store) Commit(ctx context.Context, res pitchiq.Reservation) error {
	if res.Exempt {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.userKey(res.UserID)}, "1").Err(); err != nil {
		return fmt.Errorf("pitchiq/redis: commit: %w", err)
	}
	return nil
}

// Rollback releases the reservation.
func (s *Store) Rollback(ctx context.Context, res pitchiq.Reservation) error {
	if res.Exempt {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.userKey(res.UserID)}, "0").Err(); err != nil {
		return fmt.Errorf("pitchiq/redis: rollback: %w", err)
	}
	return nil
}

// Usage returns the user's record after a lazy window reset.
func (s *Store) Usage(ctx context.Context, userID string) (pitchiq.UsageRecord, error) {
	vals, err := usageScript.Run(ctx, s.client,
		[]string{s.userKey(userID)},
		s.now().UnixMilli(), pitchiq.QuotaWindow.Milliseconds(), s.ttl(),
	).StringSlice()
	if err != nil {
		return pitchiq.UsageRecord{}, fmt.Errorf("pitchiq/redis: usage: %w", err)
	}
	if len(vals) != 4 {
		return pitchiq.UsageRecord{}, fmt.Errorf("pitchiq/redis: usage: unexpected reply length %d", len(vals))
	}

	used, _ := strconv.Atoi(vals[0])
	reserved, _ := strconv.Atoi(vals[1])
	resetAt, _ := strconv.ParseInt(vals[2], 10, 64)

	return pitchiq.UsageRecord{
		UserID:   userID,
		Used:     used,
		Reserved: reserved,
		ResetAt:  time.UnixMilli(resetAt),
		VIP:      vals[3] == "1",
	}, nil
}

// SetVIP flags a user as exempt from the free quota.
func (s *Store) SetVIP(ctx context.Context, userID string, vip bool) error {
	flag := "0"
	if vip {
		flag = "1"
	}
	err := vipScript.Run(ctx, s.client,
		[]string{s.userKey(userID)},
		s.now().UnixMilli(), pitchiq.QuotaWindow.Milliseconds(), flag, s.ttl(),
	).Err()
	if err != nil {
		return fmt.Errorf("pitchiq/redis: set vip: %w", err)
	}
	return nil
}
