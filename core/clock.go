package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock returns the same instant until Advance moves it.
type FixedClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFixedClock(at time.Time) *FixedClock {
	return &FixedClock{current: at.UTC()}
}

func (c *FixedClock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FixedClock) Advance(d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

func (c *FixedClock) Set(at time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.current = at.UTC()
	c.mu.Unlock()
}

// RandomSource yields cryptographically strong bytes.
type RandomSource interface {
	Read(p []byte) (int, error)
}

type CryptoRandom struct{}

func (CryptoRandom) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// RandomToken draws size bytes from src and encodes them as unpadded
// base64url.
func RandomToken(src RandomSource, size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("core: random token size must be positive")
	}
	if src == nil {
		src = CryptoRandom{}
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(src, raw); err != nil {
		return "", fmt.Errorf("core: read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func ResolveClock(clock Clock) Clock {
	if clock == nil {
		return SystemClock{}
	}
	return clock
}

func ResolveRandom(src RandomSource) RandomSource {
	if src == nil {
		return CryptoRandom{}
	}
	return src
}
