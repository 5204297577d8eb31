package pinguard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptWindow bounds how long an unlocked failure streak is remembered.
const attemptWindow = 24 * time.Hour

var reserveScript = redis.NewScript(`
-- KEYS[1] = attempts key
-- KEYS[2] = lock key
-- ARGV[1] = max attempts (int)
-- ARGV[2] = lock_ms (int)
-- ARGV[3] = window_ms (int)
--
-- Returns {attempt, locked_ms}. attempt = 0 refuses the comparison; locked_ms > 0 with
-- attempt > 0 means this attempt armed the lock.
local lockTTL = redis.call('PTTL', KEYS[2])
if lockTTL > 0 then
  return {0, lockTTL}
end

local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])

if n >= tonumber(ARGV[1]) then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[2])
  redis.call('DEL', KEYS[1])
  return {n, tonumber(ARGV[2])}
end
return {n, 0}
`)

// RedisAttemptStore keeps attempt counters and locks in Redis so every instance sees
// the same state and locks expire on their own.
type RedisAttemptStore struct {
	rdb    *redis.Client
	prefix string
	policy Policy
}

func NewRedisAttemptStore(rdb *redis.Client, prefix string, p Policy) *RedisAttemptStore {
	if prefix == "" {
		prefix = "pin:"
	}
	return &RedisAttemptStore{rdb: rdb, prefix: prefix, policy: p.withDefaults()}
}

func (s *RedisAttemptStore) attemptsKey(userID string) string { return s.prefix + "attempts:" + userID }
func (s *RedisAttemptStore) lockKey(userID string) string     { return s.prefix + "lock:" + userID }

func (s *RedisAttemptStore) Locked(ctx context.Context, userID string) (time.Duration, error) {
	ttl, err := s.rdb.PTTL(ctx, s.lockKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("pin lock lookup: %w", err)
	}
	// go-redis reports missing keys as negative durations.
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisAttemptStore) Reserve(ctx context.Context, userID string) (int, time.Duration, error) {
	res, err := reserveScript.Run(ctx, s.rdb,
		[]string{s.attemptsKey(userID), s.lockKey(userID)},
		s.policy.MaxAttempts,
		s.policy.LockDuration.Milliseconds(),
		attemptWindow.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("pin reserve attempt: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("pin reserve attempt: unexpected reply %v", res)
	}
	return int(res[0]), time.Duration(res[1]) * time.Millisecond, nil
}

func (s *RedisAttemptStore) Reset(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, s.attemptsKey(userID), s.lockKey(userID)).Err(); err != nil {
		return fmt.Errorf("pin reset: %w", err)
	}
	return nil
}
