package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/kvstore"
)

type failingStore struct {
	err error
}

func (s failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, s.err }
func (s failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return s.err
}
func (s failingStore) Delete(context.Context, string) error { return s.err }

type recordedLog struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	records []recordedLog
}

func (l *recordingLogger) Trace(msg string, _ ...any) { l.add("trace", msg) }
func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }
func (l *recordingLogger) Fatal(msg string, _ ...any) { l.add("fatal", msg) }
func (l *recordingLogger) WithContext(context.Context) core.Logger {
	return l
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, recordedLog{level: level, msg: msg})
}

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, record := range l.records {
		if record.level == level {
			total++
		}
	}
	return total
}

func newTestLimiter(t *testing.T) (*SlidingWindowLimiter, *core.FixedClock, *kvstore.MemoryStore) {
	t.Helper()
	clock := core.NewFixedClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	store := kvstore.NewMemoryStore(clock)
	return NewSlidingWindowLimiter(store, WithClock(clock)), clock, store
}

func TestSlidingWindowLimiter_BoundaryFivePerMinute(t *testing.T) {
	ctx := context.Background()
	limiter, clock, _ := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		if !limiter.IsAllowed(ctx, "api", "42", 5, time.Minute) {
			t.Fatalf("expected call %d to be allowed", i+1)
		}
		clock.Advance(time.Second)
	}
	if limiter.IsAllowed(ctx, "api", "42", 5, time.Minute) {
		t.Fatalf("expected sixth call inside window to be denied")
	}

	clock.Advance(61 * time.Second)
	if !limiter.IsAllowed(ctx, "api", "42", 5, time.Minute) {
		t.Fatalf("expected call after window elapsed to be allowed")
	}
}

func TestSlidingWindowLimiter_WindowSlides(t *testing.T) {
	ctx := context.Background()
	limiter, clock, _ := newTestLimiter(t)

	// t=0: one hit, t=30: two hits
	if !limiter.IsAllowed(ctx, "api", "u1", 3, time.Minute) {
		t.Fatalf("expected first call allowed")
	}
	clock.Advance(30 * time.Second)
	for i := 0; i < 2; i++ {
		if !limiter.IsAllowed(ctx, "api", "u1", 3, time.Minute) {
			t.Fatalf("expected call allowed")
		}
	}
	if limiter.IsAllowed(ctx, "api", "u1", 3, time.Minute) {
		t.Fatalf("expected budget exhausted at t=30")
	}
	// t=61: the t=0 hit left the window, the t=30 hits did not
	clock.Advance(31 * time.Second)
	if !limiter.IsAllowed(ctx, "api", "u1", 3, time.Minute) {
		t.Fatalf("expected one slot freed at t=61")
	}
	if limiter.IsAllowed(ctx, "api", "u1", 3, time.Minute) {
		t.Fatalf("expected budget exhausted again at t=61")
	}
}

func TestSlidingWindowLimiter_DeniedCallDoesNotMutateWindow(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestLimiter(t)

	for i := 0; i < 2; i++ {
		limiter.IsAllowed(ctx, "api", "u1", 2, time.Minute)
	}
	before, err := limiter.GetStatus(ctx, "api", "u1", 2, time.Minute)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for i := 0; i < 3; i++ {
		if limiter.IsAllowed(ctx, "api", "u1", 2, time.Minute) {
			t.Fatalf("expected denial")
		}
	}
	after, err := limiter.GetStatus(ctx, "api", "u1", 2, time.Minute)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if before != after {
		t.Fatalf("expected denied calls to leave window unchanged, before=%+v after=%+v", before, after)
	}
}

func TestSlidingWindowLimiter_IdentifiersAndKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	limiter, _, _ := newTestLimiter(t)

	if !limiter.IsAllowed(ctx, "api", "1", 1, time.Minute) {
		t.Fatalf("expected first identifier allowed")
	}
	if !limiter.IsAllowed(ctx, "api", "2", 1, time.Minute) {
		t.Fatalf("expected second identifier to have its own window")
	}
	if !limiter.IsAllowed(ctx, "ai", "1", 1, time.Minute) {
		t.Fatalf("expected different resource key to have its own window")
	}
}

func TestSlidingWindowLimiter_GetStatus(t *testing.T) {
	ctx := context.Background()
	limiter, clock, _ := newTestLimiter(t)
	start := clock.Now()

	status, err := limiter.GetStatus(ctx, "api", "7", 5, time.Minute)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Remaining != 5 || status.Used != 0 || status.Limit != 5 {
		t.Fatalf("unexpected empty status %+v", status)
	}

	limiter.IsAllowed(ctx, "api", "7", 5, time.Minute)
	clock.Advance(10 * time.Second)
	limiter.IsAllowed(ctx, "api", "7", 5, time.Minute)

	status, err = limiter.GetStatus(ctx, "api", "7", 5, time.Minute)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Used != 2 || status.Remaining != 3 {
		t.Fatalf("expected used=2 remaining=3, got %+v", status)
	}
	if !status.ResetAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("expected reset at oldest+window %s, got %s", start.Add(time.Minute), status.ResetAt)
	}

	// read only
	again, _ := limiter.GetStatus(ctx, "api", "7", 5, time.Minute)
	if again.Used != 2 {
		t.Fatalf("expected status to be read only, got used=%d", again.Used)
	}
}

func TestSlidingWindowLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	limiter, _, store := newTestLimiter(t)

	limiter.IsAllowed(ctx, "api", "9", 1, time.Minute)
	if limiter.IsAllowed(ctx, "api", "9", 1, time.Minute) {
		t.Fatalf("expected exhausted window")
	}
	if err := limiter.Reset(ctx, "api", "9"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected counter key removed")
	}
	if !limiter.IsAllowed(ctx, "api", "9", 1, time.Minute) {
		t.Fatalf("expected call allowed after reset")
	}
}

func TestSlidingWindowLimiter_StoresUnderPrefixedKeyWithWindowTTL(t *testing.T) {
	ctx := context.Background()
	limiter, clock, store := newTestLimiter(t)

	limiter.IsAllowed(ctx, "api", "3", 5, time.Minute)
	if _, ok, _ := store.Get(ctx, "ratelimit:api:3"); !ok {
		t.Fatalf("expected window stored under ratelimit:api:3")
	}
	clock.Advance(time.Minute)
	if _, ok, _ := store.Get(ctx, "ratelimit:api:3"); ok {
		t.Fatalf("expected window key to expire with the window")
	}
}

func TestSlidingWindowLimiter_ColonsInPartsDoNotShareWindows(t *testing.T) {
	ctx := context.Background()
	limiter, _, store := newTestLimiter(t)

	if !limiter.IsAllowed(ctx, "a:b", "c", 1, time.Minute) {
		t.Fatalf("expected first call allowed")
	}
	if !limiter.IsAllowed(ctx, "a", "b:c", 1, time.Minute) {
		t.Fatalf("expected a distinct window for a different key split")
	}
	if _, ok, _ := store.Get(ctx, "ratelimit:a%3Ab:c"); !ok {
		t.Fatalf("expected escaped key ratelimit:a%%3Ab:c")
	}
	if _, ok, _ := store.Get(ctx, "ratelimit:a:b%3Ac"); !ok {
		t.Fatalf("expected escaped key ratelimit:a:b%%3Ac")
	}
}

func TestSlidingWindowLimiter_FailsOpenOnStoreErrors(t *testing.T) {
	logger := &recordingLogger{}
	limiter := NewSlidingWindowLimiter(failingStore{err: errors.New("redis down")}, WithLogger(logger))

	for i := 0; i < 10; i++ {
		if !limiter.IsAllowed(context.Background(), "api", "1", 1, time.Minute) {
			t.Fatalf("expected fail-open admission on call %d", i+1)
		}
	}
	if logger.count("error") != 10 {
		t.Fatalf("expected an error log per failed call, got %d", logger.count("error"))
	}
}

func TestSlidingWindowLimiter_StatusAndResetPropagateStoreErrors(t *testing.T) {
	limiter := NewSlidingWindowLimiter(failingStore{err: errors.New("redis down")})
	if _, err := limiter.GetStatus(context.Background(), "api", "1", 1, time.Minute); err == nil {
		t.Fatalf("expected status error")
	}
	if err := limiter.Reset(context.Background(), "api", "1"); err == nil {
		t.Fatalf("expected reset error")
	}
}

func TestSlidingWindowLimiter_DiscardsCorruptWindow(t *testing.T) {
	ctx := context.Background()
	limiter, _, store := newTestLimiter(t)
	if err := store.Set(ctx, "ratelimit:api:1", []byte("not-json"), time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !limiter.IsAllowed(ctx, "api", "1", 1, time.Minute) {
		t.Fatalf("expected corrupt window to be rebuilt")
	}
	if limiter.IsAllowed(ctx, "api", "1", 1, time.Minute) {
		t.Fatalf("expected rebuilt window to enforce the limit")
	}
}

func TestSlidingWindowLimiter_DegenerateLimits(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	if limiter.IsAllowed(context.Background(), "api", "1", 0, time.Minute) {
		t.Fatalf("expected zero budget to deny")
	}
	if !limiter.IsAllowed(context.Background(), "api", "1", 1, 0) {
		t.Fatalf("expected empty window to admit")
	}
}
