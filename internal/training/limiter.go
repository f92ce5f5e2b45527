package training

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for the daily send quota. Checks the counter against the limit
// and increments only when the whole batch fits, so concurrent senders
// cannot overshoot with a GET then INCR sequence.
const dailyQuotaLuaScript = `
local key = KEYS[1]
local increment = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")

if current + increment > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, increment)
if newVal == increment then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// Limiter enforces a domain's effective daily limit with an atomic Redis
// counter. Counters are keyed by UTC calendar date and expire on their own.
type Limiter struct {
	redis      *redis.Client
	controller *Controller
	quota      *redis.Script
	now        func() time.Time
}

// NewLimiter creates a daily quota limiter backed by the given Redis client.
func NewLimiter(redisClient *redis.Client, controller *Controller) *Limiter {
	return &Limiter{
		redis:      redisClient,
		controller: controller,
		quota:      redis.NewScript(dailyQuotaLuaScript),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the limiter's clock, primarily for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) key(domainID string, day time.Time) string {
	return fmt.Sprintf("guard:sendquota:%s:%s", domainID, day.Format("2006-01-02"))
}

// TryReserve atomically reserves n sends against the domain's effective
// daily limit. It returns whether the reservation fit and how many sends
// remain for the day. A paused or completed domain still reserves against
// its stored limit; blocking sends entirely is the scheduler's concern.
func (l *Limiter) TryReserve(ctx context.Context, domainID string, n int) (allowed bool, remaining int, err error) {
	if n <= 0 {
		return false, 0, fmt.Errorf("reserve %d for %s: count must be positive", n, domainID)
	}

	limit, err := l.controller.EffectiveLimit(ctx, domainID)
	if err != nil {
		return false, 0, fmt.Errorf("effective limit for %s: %w", domainID, err)
	}
	if limit <= 0 {
		return false, 0, nil
	}

	result, err := l.quota.Run(ctx, l.redis,
		[]string{l.key(domainID, l.now())},
		n,
		limit,
		90000, // 25 hours, outlives the UTC day it counts
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("quota check for %s: %w", domainID, err)
	}

	allowedInt, _ := result[0].(int64)
	used, _ := result[1].(int64)

	remaining = limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return allowedInt == 1, remaining, nil
}

// Usage returns how many sends the domain has consumed today.
func (l *Limiter) Usage(ctx context.Context, domainID string) (int, error) {
	used, err := l.redis.Get(ctx, l.key(domainID, l.now())).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota usage for %s: %w", domainID, err)
	}
	return used, nil
}
