package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/oauth"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type ClientRepository interface {
	oauth.ClientStore
	oauth.ClientLister
}

// RepositoryFactory builds every relational store from one bun connection.
type RepositoryFactory struct {
	db      *bun.DB
	secrets core.SecretProvider
	cache   repositorycache.CacheService

	clientStore       *ClientStore
	cachedClientStore *CachedClientStore
	subscriptionStore *SubscriptionStore
	kvStore           *KVStore
}

type FactoryOption func(*RepositoryFactory)

// WithSecretProvider enables the subscription store.
func WithSecretProvider(secrets core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = secrets
	}
}

// WithClientCache puts a read-through cache in front of the client store.
func WithClientCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.clientStore != nil && f.kvStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// ClientStore returns the cached client store when a cache was configured.
func (f *RepositoryFactory) ClientStore() ClientRepository {
	if f == nil {
		return nil
	}
	if f.cachedClientStore != nil {
		return f.cachedClientStore
	}
	return f.clientStore
}

// SubscriptionStore is nil unless a secret provider was configured.
func (f *RepositoryFactory) SubscriptionStore() *SubscriptionStore {
	if f == nil {
		return nil
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) KVStore() *KVStore {
	if f == nil {
		return nil
	}
	return f.kvStore
}

func (f *RepositoryFactory) initStores() error {
	clientStore, err := NewClientStore(f.db)
	if err != nil {
		return err
	}
	f.clientStore = clientStore
	if f.cache != nil {
		cached, err := NewCachedClientStore(clientStore, f.cache)
		if err != nil {
			return err
		}
		f.cachedClientStore = cached
	}

	kvStore, err := NewKVStore(f.db)
	if err != nil {
		return err
	}
	f.kvStore = kvStore

	if f.secrets != nil {
		subscriptionStore, err := NewSubscriptionStore(f.db, f.secrets)
		if err != nil {
			return err
		}
		f.subscriptionStore = subscriptionStore
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
