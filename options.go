package integrations

import (
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/webhooks"
	"github.com/goliatone/go-job/queue"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/redis/go-redis/v9"
)

type Option func(*options)

type options struct {
	config         core.Config
	configProvider core.ConfigProvider
	resolver       core.OptionsResolver

	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	clock          core.Clock
	random         core.RandomSource
	httpClient     webhooks.HTTPDoer

	kv            core.CounterStore
	clients       oauth.ClientStore
	subscriptions webhooks.SubscriptionRepository
	secrets       core.SecretProvider
	persistence   *persistence.Client
	redis         *redis.Client
	clientCache   repositorycache.CacheService
	queue         queue.Enqueuer
}

// WithConfig sets runtime overrides, the highest precedence layer.
func WithConfig(cfg core.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(o *options) {
		o.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(o *options) {
		o.resolver = resolver
	}
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *options) {
		o.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = recorder
	}
}

func WithClock(clock core.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithRandomSource(source core.RandomSource) Option {
	return func(o *options) {
		o.random = source
	}
}

// WithHTTPClient replaces the client used for webhook deliveries.
func WithHTTPClient(client webhooks.HTTPDoer) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithKVStore overrides the store selected by storage.driver for codes,
// tokens and rate-limit windows.
func WithKVStore(store core.CounterStore) Option {
	return func(o *options) {
		o.kv = store
	}
}

func WithClientStore(store oauth.ClientStore) Option {
	return func(o *options) {
		o.clients = store
	}
}

func WithSubscriptionRepository(repo webhooks.SubscriptionRepository) Option {
	return func(o *options) {
		o.subscriptions = repo
	}
}

// WithSecretProvider encrypts webhook secrets in the SQL subscription store.
// Without it, secrets.app_key is used.
func WithSecretProvider(provider core.SecretProvider) Option {
	return func(o *options) {
		o.secrets = provider
	}
}

// WithPersistenceClient reuses an open connection for the SQL drivers. The
// caller keeps ownership; Close does not close it.
func WithPersistenceClient(client *persistence.Client) Option {
	return func(o *options) {
		o.persistence = client
	}
}

// WithRedisClient reuses a redis client for the redis driver. The caller
// keeps ownership.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redis = client
	}
}

func WithClientCache(cacheService repositorycache.CacheService) Option {
	return func(o *options) {
		o.clientCache = cacheService
	}
}

// WithJobQueue enables async webhook dispatch through go-job.
func WithJobQueue(enqueuer queue.Enqueuer) Option {
	return func(o *options) {
		o.queue = enqueuer
	}
}
