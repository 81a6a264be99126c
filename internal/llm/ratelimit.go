package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter throttles generation calls against shared provider
// quotas using Redis counters, so multiple tscope processes draw from
// one budget. Counters increment atomically in a Lua script; there is
// no check-then-act race between processes.
type RateLimiter struct {
	redis    *redis.Client
	rpmLimit int64
	rpdLimit int64
	log      *logrus.Entry
}

const (
	// Conservative defaults that fit the free tiers of both providers.
	DefaultRequestsPerMinute = 500
	DefaultRequestsPerDay    = 10_000
)

// limiterScript increments the minute and day counters and reports
// whether either crossed its threshold. The minute check fires at 90%
// so callers throttle before the provider starts rejecting.
var limiterScript = redis.NewScript(`
local rpm_key = KEYS[1]
local rpd_key = KEYS[2]
local rpm_limit = tonumber(ARGV[1])
local rpd_limit = tonumber(ARGV[2])

local rpm = redis.call('INCR', rpm_key)
local rpd = redis.call('INCR', rpd_key)

if rpm == 1 then redis.call('EXPIRE', rpm_key, 70) end
if rpd == 1 then redis.call('EXPIRE', rpd_key, 86400) end

if rpm >= rpm_limit * 0.9 then
	return {-1, rpm, rpm_limit}
end
if rpd >= rpd_limit then
	return {-2, rpd, rpd_limit}
end
return {0, rpm, rpd}
`)

// NewRateLimiter connects to Redis and verifies the connection.
func NewRateLimiter(redisAddr, password string) (*RateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", redisAddr, err)
	}

	return &RateLimiter{
		redis:    client,
		rpmLimit: DefaultRequestsPerMinute,
		rpdLimit: DefaultRequestsPerDay,
		log:      logrus.WithField("component", "llm_rate_limiter"),
	}, nil
}

// ThrottleError reports a limit that was reached and how long to wait.
type ThrottleError struct {
	Window  string
	Current int64
	Limit   int64
	Wait    time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("%s quota reached (%d/%d), retry in %s", e.Window, e.Current, e.Limit, e.Wait)
}

// Acquire consumes one request slot or returns a ThrottleError.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	now := time.Now()
	minuteKey := "tscope:llm:rpm:" + now.Format("2006-01-02T15:04")
	dayKey := "tscope:llm:rpd:" + now.Format("2006-01-02")

	result, err := limiterScript.Run(ctx, r.redis,
		[]string{minuteKey, dayKey}, r.rpmLimit, r.rpdLimit).Int64Slice()
	if err != nil {
		return fmt.Errorf("rate limiter Redis operation failed: %w", err)
	}
	if len(result) < 3 {
		return fmt.Errorf("unexpected rate limiter response: %v", result)
	}

	switch result[0] {
	case -1:
		wait := time.Duration(60-now.Second()) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		return &ThrottleError{Window: "per-minute", Current: result[1], Limit: result[2], Wait: wait}
	case -2:
		tomorrow := now.Add(24 * time.Hour)
		midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, tomorrow.Location())
		return &ThrottleError{Window: "daily", Current: result[1], Limit: result[2], Wait: midnight.Sub(now)}
	}
	return nil
}

// Wait blocks until a slot is available or the context ends. Daily
// exhaustion returns immediately; waiting hours inside a request
// handler helps nobody.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		err := r.Acquire(ctx)
		if err == nil {
			return nil
		}

		throttle, ok := err.(*ThrottleError)
		if !ok {
			return err
		}
		if throttle.Window == "daily" {
			return err
		}

		r.log.WithFields(logrus.Fields{
			"window": throttle.Window,
			"wait":   throttle.Wait.String(),
		}).Warn("Generation throttled")

		select {
		case <-time.After(throttle.Wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Usage reports the current minute and day counters.
func (r *RateLimiter) Usage(ctx context.Context) (rpm, rpd int64, err error) {
	now := time.Now()
	pipe := r.redis.Pipeline()
	rpmCmd := pipe.Get(ctx, "tscope:llm:rpm:"+now.Format("2006-01-02T15:04"))
	rpdCmd := pipe.Get(ctx, "tscope:llm:rpd:"+now.Format("2006-01-02"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("failed to read usage counters: %w", err)
	}
	rpm, _ = rpmCmd.Int64()
	rpd, _ = rpdCmd.Int64()
	return rpm, rpd, nil
}

// Close closes the Redis connection.
func (r *RateLimiter) Close() error {
	if r.redis != nil {
		return r.redis.Close()
	}
	return nil
}
