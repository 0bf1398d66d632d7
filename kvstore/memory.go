package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps entries in a map and evicts them lazily on read. Expiry
// follows the injected clock so tests can move time forward.
type MemoryStore struct {
	mu      sync.RWMutex
	clock   core.Clock
	entries map[string]memoryEntry
}

func NewMemoryStore(clock core.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   core.ResolveClock(clock),
		entries: map[string]memoryEntry{},
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, fmt.Errorf("kvstore: memory store is nil")
	}
	key = normalizeKey(key)
	if key == "" {
		return nil, false, fmt.Errorf("kvstore: key is required")
	}

	now := s.clock.Now()
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if entry.expired(now) {
		s.mu.Lock()
		if current, exists := s.entries[key]; exists && current.expired(now) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return fmt.Errorf("kvstore: memory store is nil")
	}
	key = normalizeKey(key)
	if key == "" {
		return fmt.Errorf("kvstore: key is required")
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("kvstore: memory store is nil")
	}
	key = normalizeKey(key)
	if key == "" {
		return fmt.Errorf("kvstore: key is required")
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Increment adds one under the write lock, so concurrent callers observe
// distinct counts.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("kvstore: memory store is nil")
	}
	key = normalizeKey(key)
	if key == "" {
		return 0, fmt.Errorf("kvstore: key is required")
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(now) {
		entry = memoryEntry{}
		if ttl > 0 {
			entry.expiresAt = now.Add(ttl)
		}
	}
	var count int64
	if len(entry.value) > 0 {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kvstore: key %q does not hold a counter", key)
		}
		count = parsed
	}
	count++
	entry.value = []byte(strconv.FormatInt(count, 10))
	s.entries[key] = entry
	return count, nil
}

// Len reports live entries; expired ones are not counted.
func (s *MemoryStore) Len() int {
	if s == nil {
		return 0
	}
	now := s.clock.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, entry := range s.entries {
		if !entry.expired(now) {
			count++
		}
	}
	return count
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}
