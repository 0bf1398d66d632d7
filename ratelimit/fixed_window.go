package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

// FixedWindowCounter enforces a hard cap with one atomic increment per
// request. The window starts at the first request for a key and the counter
// expires with it.
type FixedWindowCounter struct {
	Counter   core.Counter
	Clock     core.Clock
	KeyPrefix string
	// FailOpen admits requests when the counter backend errors. Off by
	// default, since this limiter exists for hard guarantees.
	FailOpen bool
	Observer core.Observer
}

func NewFixedWindowCounter(counter core.Counter) *FixedWindowCounter {
	return &FixedWindowCounter{
		Counter:   counter,
		Clock:     core.SystemClock{},
		KeyPrefix: core.DefaultRateLimitKeyPrefix + ":strict",
		Observer:  core.NewObserver(nil, nil, "integrations.ratelimit"),
	}
}

// Allow returns an ExceededError once count passes maxRequests.
func (c *FixedWindowCounter) Allow(ctx context.Context, key, identifier string, maxRequests int, window time.Duration) error {
	if c == nil || c.Counter == nil {
		return fmt.Errorf("ratelimit: counter is not configured")
	}
	now := core.ResolveClock(c.Clock).Now()
	if maxRequests <= 0 {
		return NewExceededError(key, identifier, Status{Limit: maxRequests, ResetAt: now.Add(window)}, now)
	}
	if window <= 0 {
		return nil
	}

	storeKey := c.storeKey(key, identifier)
	count, err := c.Counter.Increment(ctx, storeKey, window)
	if err != nil {
		if c.FailOpen {
			c.Observer.Error(ctx, "ratelimit counter failure, allowing request", map[string]any{
				"resource_key": strings.TrimSpace(key),
				"identifier":   strings.TrimSpace(identifier),
				"error":        err.Error(),
			})
			return nil
		}
		return fmt.Errorf("ratelimit: increment %q: %w", strings.TrimSpace(key), err)
	}
	if count > int64(maxRequests) {
		status := Status{
			Limit:     maxRequests,
			Used:      int(count),
			Remaining: 0,
			ResetAt:   now.Add(window),
		}
		return NewExceededError(key, identifier, status, now)
	}
	return nil
}

func (c *FixedWindowCounter) storeKey(key, identifier string) string {
	prefix := strings.TrimSpace(c.KeyPrefix)
	if prefix == "" {
		prefix = core.DefaultRateLimitKeyPrefix + ":strict"
	}
	return joinKey(prefix, key, identifier)
}
