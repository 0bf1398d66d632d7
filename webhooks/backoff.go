package webhooks

import (
	"context"
	"math"
	"time"
)

type RetryPolicy interface {
	// NextDelay is the wait after failed attempt number attempt (0-based).
	NextDelay(attempt int) time.Duration
}

// PowerBackoff waits Base^attempt units: 1s, 4s, 16s with the defaults.
type PowerBackoff struct {
	Base int
	Unit time.Duration
	Max  time.Duration
}

func (p PowerBackoff) NextDelay(attempt int) time.Duration {
	base := p.Base
	if base <= 1 {
		base = 4
	}
	unit := p.Unit
	if unit <= 0 {
		unit = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Duration(math.Pow(float64(base), float64(attempt)) * float64(unit))
	if p.Max > 0 && (delay > p.Max || delay <= 0) {
		return p.Max
	}
	return delay
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func ContextSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
