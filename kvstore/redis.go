package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/redis/go-redis/v9"
)

// incrementScript bumps the counter and sets the expiry only on creation, in
// one round trip so the pair cannot interleave with another client.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 and tonumber(ARGV[1]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Connect accepts either a redis:// URL or a bare host:port address.
func Connect(redisURL string) (*redis.Client, error) {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return nil, fmt.Errorf("kvstore: redis address is required")
	}
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("kvstore: parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
}

type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key, e.g. "integrations:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = strings.TrimSpace(prefix)
	}
}

func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	redisKey, err := s.key(key)
	if err != nil {
		return nil, false, err
	}
	value, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, core.StoreError("get", err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	redisKey, err := s.key(key)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, redisKey, value, ttl).Err(); err != nil {
		return core.StoreError("set", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	redisKey, err := s.key(key)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return core.StoreError("delete", err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	redisKey, err := s.key(key)
	if err != nil {
		return 0, err
	}
	count, err := incrementScript.Run(ctx, s.client, []string{redisKey}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, core.StoreError("increment", err)
	}
	return count, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("kvstore: redis client is not configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return core.StoreError("ping", err)
	}
	return nil
}

func (s *RedisStore) key(key string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("kvstore: redis client is not configured")
	}
	key = normalizeKey(key)
	if key == "" {
		return "", fmt.Errorf("kvstore: key is required")
	}
	return s.keyPrefix + key, nil
}
