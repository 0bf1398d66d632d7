package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/uptrace/bun"
)

// KVStore is the relational fallback for deployments without redis. Expired
// rows are invisible to reads and removed lazily or by PurgeExpired.
type KVStore struct {
	db    *bun.DB
	clock core.Clock
}

type KVOption func(*KVStore)

func WithKVClock(clock core.Clock) KVOption {
	return func(s *KVStore) {
		s.clock = clock
	}
}

func NewKVStore(db *bun.DB, opts ...KVOption) (*KVStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	store := &KVStore{db: db, clock: core.SystemClock{}}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.clock = core.ResolveClock(store.clock)
	return store, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("sqlstore: kv store is not configured")
	}
	records := make([]*kvRecord, 0, 1)
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.kv_key = ?", strings.TrimSpace(key)).
		Where("?TableAlias.expires_at IS NULL OR ?TableAlias.expires_at > ?", s.now()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, false, core.StoreError("kv_get", err)
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), records[0].Value...), true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: kv key is required")
	}
	now := s.now()
	record := &kvRecord{
		Key:       key,
		Value:     append([]byte{}, value...),
		ExpiresAt: expiry(now, ttl),
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (kv_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("counter = EXCLUDED.counter").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.StoreError("kv_set", err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*kvRecord)(nil)).
		Where("kv_key = ?", strings.TrimSpace(key)).
		Exec(ctx)
	if err != nil {
		return core.StoreError("kv_delete", err)
	}
	return nil
}

// Increment bumps the counter at key inside one transaction. An absent or
// expired key restarts at 1 with a fresh ttl.
func (s *KVStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("sqlstore: kv key is required")
	}
	now := s.now()
	var count int64
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*kvRecord)(nil)).
			Where("kv_key = ?", key).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Exec(ctx); err != nil {
			return err
		}
		seed := &kvRecord{Key: key, Value: []byte("0"), ExpiresAt: expiry(now, ttl), UpdatedAt: now}
		if _, err := tx.NewInsert().
			Model(seed).
			On("CONFLICT (kv_key) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}
		if err := tx.NewUpdate().
			Model((*kvRecord)(nil)).
			Set("counter = counter + 1").
			Set("updated_at = ?", now).
			Where("kv_key = ?", key).
			Returning("counter").
			Scan(ctx, &count); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*kvRecord)(nil)).
			Set("value = ?", []byte(strconv.FormatInt(count, 10))).
			Where("kv_key = ?", key).
			Exec(ctx)
		return err
	})
	if err != nil {
		return 0, core.StoreError("kv_increment", err)
	}
	return count, nil
}

// PurgeExpired deletes rows past their expiry and returns how many went.
func (s *KVStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: kv store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*kvRecord)(nil)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, core.StoreError("kv_purge", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

func (s *KVStore) now() time.Time {
	return s.clock.Now().UTC()
}

func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}
