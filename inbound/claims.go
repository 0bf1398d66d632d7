package inbound

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

const defaultClaimPrefix = "inbound"

// ClaimStore guards a delivery id while its handler runs. Claim returns
// accepted=false for ids already completed or currently leased.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string, ttl time.Duration) error
	Fail(ctx context.Context, claimID string) error
}

// KVClaimStore keeps claims in a counter store. The lease is an atomic
// increment so two receivers racing on one id admit only the first.
type KVClaimStore struct {
	Store  core.CounterStore
	Prefix string
}

func NewKVClaimStore(store core.CounterStore) *KVClaimStore {
	return &KVClaimStore{Store: store, Prefix: defaultClaimPrefix}
}

func (s *KVClaimStore) Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil || s.Store == nil {
		return "", false, inboundInternal("inbound: claim store is not configured", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: claim key is required", nil)
	}
	if lease <= 0 {
		lease = defaultLease
	}
	_, done, err := s.Store.Get(ctx, s.doneKey(key))
	if err != nil {
		return "", false, err
	}
	if done {
		return "", false, nil
	}
	count, err := s.Store.Increment(ctx, s.leaseKey(key), lease)
	if err != nil {
		return "", false, err
	}
	if count > 1 {
		return "", false, nil
	}
	return key, true, nil
}

func (s *KVClaimStore) Complete(ctx context.Context, claimID string, ttl time.Duration) error {
	if s == nil || s.Store == nil {
		return inboundInternal("inbound: claim store is not configured", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	if err := s.Store.Set(ctx, s.doneKey(claimID), []byte("1"), ttl); err != nil {
		return err
	}
	return s.Store.Delete(ctx, s.leaseKey(claimID))
}

func (s *KVClaimStore) Fail(ctx context.Context, claimID string) error {
	if s == nil || s.Store == nil {
		return inboundInternal("inbound: claim store is not configured", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}
	return s.Store.Delete(ctx, s.leaseKey(claimID))
}

func (s *KVClaimStore) prefix() string {
	if p := strings.TrimSpace(s.Prefix); p != "" {
		return p
	}
	return defaultClaimPrefix
}

func (s *KVClaimStore) doneKey(key string) string  { return s.prefix() + ":done:" + key }
func (s *KVClaimStore) leaseKey(key string) string { return s.prefix() + ":lease:" + key }
