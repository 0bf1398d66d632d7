package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type Status struct {
	Remaining int
	Limit     int
	Used      int
	ResetAt   time.Time
}

// Exhausted reports whether no budget remains in the window.
func (s Status) Exhausted() bool {
	return s.Remaining <= 0
}

type Option func(*SlidingWindowLimiter)

func WithClock(clock core.Clock) Option {
	return func(l *SlidingWindowLimiter) {
		l.Clock = clock
	}
}

func WithLogger(logger core.Logger) Option {
	return func(l *SlidingWindowLimiter) {
		l.Observer.Logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(l *SlidingWindowLimiter) {
		l.Observer.Metrics = recorder
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(l *SlidingWindowLimiter) {
		l.KeyPrefix = prefix
	}
}

type SlidingWindowLimiter struct {
	Store     core.KVStore
	Clock     core.Clock
	KeyPrefix string
	Observer  core.Observer
}

func NewSlidingWindowLimiter(store core.KVStore, opts ...Option) *SlidingWindowLimiter {
	limiter := &SlidingWindowLimiter{
		Store:     store,
		Clock:     core.SystemClock{},
		KeyPrefix: core.DefaultRateLimitKeyPrefix,
		Observer:  core.NewObserver(nil, nil, "integrations.ratelimit"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(limiter)
		}
	}
	return limiter
}

// IsAllowed admits the request when fewer than maxRequests timestamps fall
// inside the window ending now, recording the admission. A denied request
// leaves the stored window untouched. Store errors are logged and the request
// is admitted.
func (l *SlidingWindowLimiter) IsAllowed(ctx context.Context, key, identifier string, maxRequests int, window time.Duration) bool {
	_, allowed := l.Consume(ctx, key, identifier, maxRequests, window)
	return allowed
}

// Consume behaves like IsAllowed and also returns the window status after the
// decision, for response headers.
func (l *SlidingWindowLimiter) Consume(ctx context.Context, key, identifier string, maxRequests int, window time.Duration) (Status, bool) {
	now := l.now()
	status := Status{Limit: maxRequests, Remaining: maxRequests, ResetAt: now.Add(window)}
	if maxRequests <= 0 {
		status.Remaining = 0
		l.recordDecision(ctx, key, false)
		return status, false
	}
	if window <= 0 {
		l.recordDecision(ctx, key, true)
		return status, true
	}
	if l == nil || l.Store == nil {
		l.failOpen(ctx, key, identifier, fmt.Errorf("ratelimit: store is not configured"))
		return status, true
	}

	storeKey := l.storeKey(key, identifier)
	timestamps, err := l.load(ctx, storeKey)
	if err != nil {
		l.failOpen(ctx, key, identifier, err)
		return status, true
	}
	timestamps = prune(timestamps, now, window)
	if len(timestamps) >= maxRequests {
		l.recordDecision(ctx, key, false)
		return buildStatus(timestamps, maxRequests, now, window), false
	}

	timestamps = append(timestamps, now.UnixMilli())
	if err := l.save(ctx, storeKey, timestamps, window); err != nil {
		l.failOpen(ctx, key, identifier, err)
		return buildStatus(timestamps, maxRequests, now, window), true
	}
	l.recordDecision(ctx, key, true)
	return buildStatus(timestamps, maxRequests, now, window), true
}

// GetStatus reads the window without recording a request.
func (l *SlidingWindowLimiter) GetStatus(ctx context.Context, key, identifier string, maxRequests int, window time.Duration) (Status, error) {
	if l == nil || l.Store == nil {
		return Status{}, fmt.Errorf("ratelimit: store is not configured")
	}
	now := l.now()
	if window <= 0 {
		return Status{Limit: maxRequests, Remaining: max(maxRequests, 0), ResetAt: now}, nil
	}
	timestamps, err := l.load(ctx, l.storeKey(key, identifier))
	if err != nil {
		return Status{}, err
	}
	return buildStatus(prune(timestamps, now, window), maxRequests, now, window), nil
}

// Reset drops the window for key and identifier.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key, identifier string) error {
	if l == nil || l.Store == nil {
		return fmt.Errorf("ratelimit: store is not configured")
	}
	if err := l.Store.Delete(ctx, l.storeKey(key, identifier)); err != nil {
		return fmt.Errorf("ratelimit: reset %q: %w", strings.TrimSpace(key), err)
	}
	return nil
}

func (l *SlidingWindowLimiter) load(ctx context.Context, storeKey string) ([]int64, error) {
	raw, ok, err := l.Store.Get(ctx, storeKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var timestamps []int64
	if err := json.Unmarshal(raw, &timestamps); err != nil {
		// an unreadable window is rebuilt from scratch
		l.Observer.Warn(ctx, "ratelimit window discarded", map[string]any{
			"store_key": storeKey,
			"error":     err.Error(),
		})
		return nil, nil
	}
	return timestamps, nil
}

func (l *SlidingWindowLimiter) save(ctx context.Context, storeKey string, timestamps []int64, window time.Duration) error {
	raw, err := json.Marshal(timestamps)
	if err != nil {
		return fmt.Errorf("ratelimit: encode window: %w", err)
	}
	return l.Store.Set(ctx, storeKey, raw, window)
}

func (l *SlidingWindowLimiter) failOpen(ctx context.Context, key, identifier string, err error) {
	if l == nil {
		return
	}
	l.Observer.Error(ctx, "ratelimit store failure, allowing request", map[string]any{
		"resource_key": strings.TrimSpace(key),
		"identifier":   strings.TrimSpace(identifier),
		"error":        err.Error(),
	})
	l.Observer.IncCounter(ctx, "integrations.ratelimit.fail_open", 1, map[string]string{
		"resource_key": strings.TrimSpace(key),
	})
}

func (l *SlidingWindowLimiter) recordDecision(ctx context.Context, key string, allowed bool) {
	if l == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	l.Observer.IncCounter(ctx, "integrations.ratelimit.decisions", 1, map[string]string{
		"resource_key": strings.TrimSpace(key),
		"decision":     decision,
	})
}

func (l *SlidingWindowLimiter) storeKey(key, identifier string) string {
	prefix := core.DefaultRateLimitKeyPrefix
	if l != nil && strings.TrimSpace(l.KeyPrefix) != "" {
		prefix = strings.TrimSpace(l.KeyPrefix)
	}
	return joinKey(prefix, key, identifier)
}

var keyPartEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// joinKey builds prefix:key:identifier with ":" escaped inside the parts, so
// ("a:b", "c") and ("a", "b:c") land in different windows.
func joinKey(prefix, key, identifier string) string {
	return prefix + ":" + keyPartEscaper.Replace(strings.TrimSpace(key)) + ":" + keyPartEscaper.Replace(strings.TrimSpace(identifier))
}

func (l *SlidingWindowLimiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

// prune keeps timestamps inside [now-window, now].
func prune(timestamps []int64, now time.Time, window time.Duration) []int64 {
	if len(timestamps) == 0 {
		return nil
	}
	lower := now.Add(-window).UnixMilli()
	upper := now.UnixMilli()
	kept := timestamps[:0:0]
	for _, ts := range timestamps {
		if ts >= lower && ts <= upper {
			kept = append(kept, ts)
		}
	}
	return kept
}

func buildStatus(timestamps []int64, maxRequests int, now time.Time, window time.Duration) Status {
	used := len(timestamps)
	remaining := maxRequests - used
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(window)
	if used > 0 {
		oldest := timestamps[0]
		for _, ts := range timestamps[1:] {
			if ts < oldest {
				oldest = ts
			}
		}
		resetAt = time.UnixMilli(oldest).UTC().Add(window)
	}
	return Status{
		Remaining: remaining,
		Limit:     maxRequests,
		Used:      used,
		ResetAt:   resetAt,
	}
}
