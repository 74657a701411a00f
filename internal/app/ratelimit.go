package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ContinueLimiter throttles bundle "continue" requests per subject, the
// second line of defense after the progress cursor's compare-and-swap.
type ContinueLimiter interface {
	Allow(ctx context.Context, telegramID int64) (bool, error)
}

// RedisContinueLimiter is a fixed-window counter in Redis: the first
// request in a window creates the key with an expiry, later requests
// increment it and are rejected over the limit.
type RedisContinueLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisContinueLimiter creates a limiter allowing limit requests per
// window per subject.
func NewRedisContinueLimiter(client *redis.Client, limit int64, window time.Duration) *RedisContinueLimiter {
	return &RedisContinueLimiter{client: client, limit: limit, window: window}
}

var continueLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// Allow reports whether the subject is under the limit for the current
// window.
func (l *RedisContinueLimiter) Allow(ctx context.Context, telegramID int64) (bool, error) {
	key := fmt.Sprintf("ratelimit:bundle_continue:%d", telegramID)
	current, err := continueLimitScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return current <= l.limit, nil
}

// NoopContinueLimiter allows everything; used when Redis is not
// configured.
type NoopContinueLimiter struct{}

func (NoopContinueLimiter) Allow(context.Context, int64) (bool, error) { return true, nil }
