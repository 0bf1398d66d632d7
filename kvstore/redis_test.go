package kvstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("INTEGRATIONS_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("INTEGRATIONS_TEST_REDIS_ADDR not set")
	}
	client, err := Connect(addr)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, WithKeyPrefix("itest:"+uuid.NewString()+":"))
	if err := store.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return store
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	if err := store.Set(ctx, "token", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := store.Get(ctx, "token")
	if err != nil || !ok || string(value) != "payload" {
		t.Fatalf("unexpected get result %q ok=%v err=%v", value, ok, err)
	}
	if err := store.Delete(ctx, "token"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.Get(ctx, "token"); ok || err != nil {
		t.Fatalf("expected missing key after delete, ok=%v err=%v", ok, err)
	}
}

func TestRedisStore_Increment(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "hits", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestRedisStore_NotConfigured(t *testing.T) {
	store := NewRedisStore(nil)
	if _, _, err := store.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected configuration error")
	}
	if _, err := Connect(" "); err == nil {
		t.Fatalf("expected address validation error")
	}
}
