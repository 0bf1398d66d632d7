package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-integrations/oauth"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const clientCacheKeyPrefix = "go-integrations::oauth_client::v1"

// CachedClientStore fronts a ClientStore with a read-through cache. Misses
// are cached too; SaveClient invalidates the entry.
type CachedClientStore struct {
	base  oauth.ClientStore
	cache repositorycache.CacheService
}

type cachedClient struct {
	Client oauth.Client
	Found  bool
}

func NewCachedClientStore(base oauth.ClientStore, cacheService repositorycache.CacheService) (*CachedClientStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base client store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: client cache service is required")
	}
	return &CachedClientStore{base: base, cache: cacheService}, nil
}

// ClientCacheKey returns go-integrations::oauth_client::v1::<client_id> with
// the client id URL-path escaped.
func ClientCacheKey(clientID string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", fmt.Errorf("sqlstore: client id is required")
	}
	return clientCacheKeyPrefix + "::" + url.PathEscape(clientID), nil
}

func (s *CachedClientStore) GetClient(ctx context.Context, clientID string) (oauth.Client, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return oauth.Client{}, false, fmt.Errorf("sqlstore: cached client store is not configured")
	}
	cacheKey, err := ClientCacheKey(clientID)
	if err != nil {
		return oauth.Client{}, false, nil
	}
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedClient, error) {
		client, found, fetchErr := s.base.GetClient(ctx, strings.TrimSpace(clientID))
		if fetchErr != nil {
			return cachedClient{}, fetchErr
		}
		return cachedClient{Client: client, Found: found}, nil
	})
	if err != nil {
		return oauth.Client{}, false, err
	}
	return cloneClient(entry.Client), entry.Found, nil
}

func (s *CachedClientStore) SaveClient(ctx context.Context, client oauth.Client) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached client store is not configured")
	}
	if err := s.base.SaveClient(ctx, client); err != nil {
		return err
	}
	cacheKey, err := ClientCacheKey(client.ClientID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

// ListClients bypasses the cache.
func (s *CachedClientStore) ListClients(ctx context.Context) ([]oauth.Client, error) {
	lister, ok := s.base.(oauth.ClientLister)
	if !ok {
		return nil, fmt.Errorf("sqlstore: base client store cannot list clients")
	}
	return lister.ListClients(ctx)
}

func cloneClient(client oauth.Client) oauth.Client {
	cloned := client
	cloned.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	cloned.Scopes = append([]string(nil), client.Scopes...)
	return cloned
}
