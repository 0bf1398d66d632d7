package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (Client, bool, error)
	SaveClient(ctx context.Context, client Client) error
}

// ClientLister is implemented by stores that can enumerate clients.
type ClientLister interface {
	ListClients(ctx context.Context) ([]Client, error)
}

type CodeStore interface {
	SaveCode(ctx context.Context, code string, record AuthorizationCode, ttl time.Duration) error
	// TakeCode loads and deletes in that order. The delete happens even
	// when the caller later rejects the code.
	TakeCode(ctx context.Context, code string) (AuthorizationCode, bool, error)
	PeekCode(ctx context.Context, code string) (AuthorizationCode, bool, error)
}

type TokenStore interface {
	SaveToken(ctx context.Context, token string, record TokenRecord, ttl time.Duration) error
	GetToken(ctx context.Context, token string) (TokenRecord, bool, error)
	DeleteToken(ctx context.Context, token string) error
}

const (
	codeKeyPrefix  = "oauth_code:"
	tokenKeyPrefix = "oauth_token:"
)

// KVCodeStore keeps codes in a core.KVStore under a digest of the code, so
// the raw value never sits in the backend.
type KVCodeStore struct {
	Store core.KVStore
}

func NewKVCodeStore(store core.KVStore) *KVCodeStore {
	return &KVCodeStore{Store: store}
}

func (s *KVCodeStore) SaveCode(ctx context.Context, code string, record AuthorizationCode, ttl time.Duration) error {
	if s == nil || s.Store == nil {
		return fmt.Errorf("oauth: code store is not configured")
	}
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("oauth: code is required")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("oauth: encode code: %w", err)
	}
	return s.Store.Set(ctx, codeKeyPrefix+digest(code), raw, ttl)
}

func (s *KVCodeStore) TakeCode(ctx context.Context, code string) (AuthorizationCode, bool, error) {
	raw, ok, err := s.rawCode(ctx, code)
	if err != nil || !ok {
		return AuthorizationCode{}, false, err
	}
	// Consumed before decoding so a corrupt record cannot be retried.
	if err := s.Store.Delete(ctx, codeKeyPrefix+digest(code)); err != nil {
		return AuthorizationCode{}, false, err
	}
	record, err := decodeCode(raw)
	if err != nil {
		return AuthorizationCode{}, false, err
	}
	return record, true, nil
}

func (s *KVCodeStore) PeekCode(ctx context.Context, code string) (AuthorizationCode, bool, error) {
	raw, ok, err := s.rawCode(ctx, code)
	if err != nil || !ok {
		return AuthorizationCode{}, false, err
	}
	record, err := decodeCode(raw)
	if err != nil {
		return AuthorizationCode{}, false, err
	}
	return record, true, nil
}

func (s *KVCodeStore) rawCode(ctx context.Context, code string) ([]byte, bool, error) {
	if s == nil || s.Store == nil {
		return nil, false, fmt.Errorf("oauth: code store is not configured")
	}
	if strings.TrimSpace(code) == "" {
		return nil, false, nil
	}
	return s.Store.Get(ctx, codeKeyPrefix+digest(code))
}

func decodeCode(raw []byte) (AuthorizationCode, error) {
	var record AuthorizationCode
	if err := json.Unmarshal(raw, &record); err != nil {
		return AuthorizationCode{}, fmt.Errorf("oauth: decode code: %w", err)
	}
	return record, nil
}

type KVTokenStore struct {
	Store core.KVStore
}

func NewKVTokenStore(store core.KVStore) *KVTokenStore {
	return &KVTokenStore{Store: store}
}

func (s *KVTokenStore) SaveToken(ctx context.Context, token string, record TokenRecord, ttl time.Duration) error {
	if s == nil || s.Store == nil {
		return fmt.Errorf("oauth: token store is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("oauth: token is required")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("oauth: encode token: %w", err)
	}
	return s.Store.Set(ctx, tokenKeyPrefix+digest(token), raw, ttl)
}

func (s *KVTokenStore) GetToken(ctx context.Context, token string) (TokenRecord, bool, error) {
	if s == nil || s.Store == nil {
		return TokenRecord{}, false, fmt.Errorf("oauth: token store is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return TokenRecord{}, false, nil
	}
	raw, ok, err := s.Store.Get(ctx, tokenKeyPrefix+digest(token))
	if err != nil || !ok {
		return TokenRecord{}, false, err
	}
	var record TokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return TokenRecord{}, false, fmt.Errorf("oauth: decode token: %w", err)
	}
	return record, true, nil
}

func (s *KVTokenStore) DeleteToken(ctx context.Context, token string) error {
	if s == nil || s.Store == nil {
		return fmt.Errorf("oauth: token store is not configured")
	}
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return s.Store.Delete(ctx, tokenKeyPrefix+digest(token))
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewMemoryClientStore(clients ...Client) *MemoryClientStore {
	store := &MemoryClientStore{clients: map[string]Client{}}
	for _, client := range clients {
		store.clients[client.ClientID] = cloneClient(client)
	}
	return store
}

func (s *MemoryClientStore) GetClient(_ context.Context, clientID string) (Client, bool, error) {
	if s == nil {
		return Client{}, false, fmt.Errorf("oauth: client store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return Client{}, false, nil
	}
	return cloneClient(client), true, nil
}

func (s *MemoryClientStore) SaveClient(_ context.Context, client Client) error {
	if s == nil {
		return fmt.Errorf("oauth: client store is nil")
	}
	if strings.TrimSpace(client.ClientID) == "" {
		return fmt.Errorf("oauth: client id is required")
	}
	s.mu.Lock()
	s.clients[client.ClientID] = cloneClient(client)
	s.mu.Unlock()
	return nil
}

func (s *MemoryClientStore) ListClients(context.Context) ([]Client, error) {
	if s == nil {
		return nil, fmt.Errorf("oauth: client store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Client, 0, len(s.clients))
	for _, client := range s.clients {
		out = append(out, cloneClient(client))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}
