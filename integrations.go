// Package integrations wires the OAuth2 authorization server, the webhook
// dispatcher and the rate limiters over one storage backend.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/adapters/gojob"
	"github.com/goliatone/go-integrations/adapters/gologger"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/inbound"
	"github.com/goliatone/go-integrations/kvstore"
	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/oauth/httpapi"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/security"
	sqlstore "github.com/goliatone/go-integrations/store/sql"
	"github.com/goliatone/go-integrations/webhooks"
	"github.com/goliatone/go-job/queue"
)

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type Integrations struct {
	Config   Config
	Loggers  gologger.Components
	OAuth    *oauth.Server
	Webhooks *webhooks.Dispatcher
	Limiter  *ratelimit.SlidingWindowLimiter
	Strict   *ratelimit.FixedWindowCounter
	// Queue is nil unless WithJobQueue was given.
	Queue *gojob.WebhookEnqueuer

	metrics       core.MetricsRecorder
	kv            core.CounterStore
	clients       oauth.ClientStore
	subscriptions webhooks.SubscriptionRepository
	commands      Commands
	queries       Queries
	closers       []func() error
}

// New resolves configuration and builds every component. The storage backend
// follows storage.driver unless stores are injected through options.
func New(ctx context.Context, opts ...Option) (*Integrations, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	cfg, err := core.ResolveConfig(ctx, o.config, o.configProvider, o.resolver)
	if err != nil {
		return nil, err
	}
	_, loggers := gologger.ResolveComponents(cfg.ServiceName, o.loggerProvider, o.logger)
	clock := core.ResolveClock(o.clock)
	metrics := core.ResolveMetrics(o.metrics)

	in := &Integrations{Config: cfg, Loggers: loggers, metrics: metrics}
	if err := in.buildStores(ctx, &o, clock); err != nil {
		_ = in.Close()
		return nil, err
	}

	oauthOpts := []oauth.Option{
		oauth.WithConfig(cfg.OAuth),
		oauth.WithClock(clock),
		oauth.WithLogger(loggers.OAuth),
		oauth.WithMetricsRecorder(metrics),
	}
	if o.random != nil {
		oauthOpts = append(oauthOpts, oauth.WithRandomSource(o.random))
	}
	in.OAuth, err = oauth.NewKVServer(o.clients, o.kv, oauthOpts...)
	if err != nil {
		_ = in.Close()
		return nil, err
	}

	webhookOpts := []webhooks.Option{
		webhooks.WithConfig(cfg.Webhooks),
		webhooks.WithClock(clock),
		webhooks.WithLogger(loggers.Webhooks),
		webhooks.WithMetricsRecorder(metrics),
	}
	if o.httpClient != nil {
		webhookOpts = append(webhookOpts, webhooks.WithHTTPClient(o.httpClient))
	}
	in.Webhooks, err = webhooks.NewDispatcher(o.subscriptions, webhookOpts...)
	if err != nil {
		_ = in.Close()
		return nil, err
	}

	in.Limiter = ratelimit.NewSlidingWindowLimiter(o.kv,
		ratelimit.WithClock(clock),
		ratelimit.WithLogger(loggers.RateLimit),
		ratelimit.WithMetricsRecorder(metrics),
		ratelimit.WithKeyPrefix(cfg.RateLimit.KeyPrefix),
	)
	in.Strict = ratelimit.NewFixedWindowCounter(o.kv)
	in.Strict.Clock = clock
	in.Strict.KeyPrefix = cfg.RateLimit.KeyPrefix + ":strict"
	in.Strict.Observer = core.NewObserver(loggers.RateLimit, metrics, "integrations.ratelimit")

	if o.queue != nil {
		in.Queue = gojob.NewWebhookEnqueuer(o.queue)
	}
	in.kv = o.kv
	in.clients = o.clients
	in.subscriptions = o.subscriptions
	in.commands = newCommands(in)
	in.queries = newQueries(in)

	loggers.Root.Info("integrations ready", "storage", cfg.Storage.Driver, "async_dispatch", in.Queue != nil)
	return in, nil
}

func (in *Integrations) buildStores(ctx context.Context, o *options, clock core.Clock) error {
	cfg := in.Config
	if o.secrets == nil && strings.TrimSpace(cfg.Secrets.AppKey) != "" {
		var secretOpts []security.Option
		if id := strings.TrimSpace(cfg.Secrets.KeyID); id != "" {
			secretOpts = append(secretOpts, security.WithKeyID(id))
		}
		provider, err := security.NewAppKeySecretProviderFromString(cfg.Secrets.AppKey, secretOpts...)
		if err != nil {
			return err
		}
		o.secrets = provider
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch driver {
	case "", core.StorageDriverMemory:
		if o.kv == nil {
			o.kv = kvstore.NewMemoryStore(clock)
		}
	case core.StorageDriverRedis:
		if o.kv == nil {
			client := o.redis
			if client == nil {
				created, err := kvstore.Connect(cfg.Storage.RedisAddr)
				if err != nil {
					return err
				}
				in.closers = append(in.closers, created.Close)
				client = created
			}
			store := kvstore.NewRedisStore(client, kvstore.WithKeyPrefix(cfg.ServiceName+":"))
			pingCtx, cancel := context.WithTimeout(ctx, cfg.Storage.PingTimeoutDuration())
			defer cancel()
			if err := store.Ping(pingCtx); err != nil {
				return err
			}
			o.kv = store
		}
	case core.StorageDriverSQLite, core.StorageDriverPostgres:
		client := o.persistence
		if client == nil {
			opened, err := sqlstore.Open(ctx, cfg.Storage, true)
			if err != nil {
				return err
			}
			in.closers = append(in.closers, opened.Close)
			client = opened
		}
		factoryOpts := []sqlstore.FactoryOption{}
		if o.secrets != nil {
			factoryOpts = append(factoryOpts, sqlstore.WithSecretProvider(o.secrets))
		}
		if o.clientCache != nil {
			factoryOpts = append(factoryOpts, sqlstore.WithClientCache(o.clientCache))
		}
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
		if err != nil {
			return err
		}
		if o.clients == nil {
			o.clients = factory.ClientStore()
		}
		if o.kv == nil {
			o.kv = factory.KVStore()
		}
		if o.subscriptions == nil {
			subs := factory.SubscriptionStore()
			if subs == nil {
				return fmt.Errorf("integrations: secrets.app_key or a secret provider is required for SQL webhook subscriptions")
			}
			o.subscriptions = subs
		}
	default:
		return fmt.Errorf("integrations: unsupported storage driver %q", cfg.Storage.Driver)
	}

	if o.clients == nil {
		o.clients = oauth.NewMemoryClientStore()
	}
	if o.subscriptions == nil {
		o.subscriptions = webhooks.NewMemorySubscriptionRepository()
	}
	return nil
}

// Dispatch fans event out to the matching subscriptions and returns how many
// accepted it.
func (in *Integrations) Dispatch(ctx context.Context, event string, payload any, tenantID string) (int, error) {
	return in.Webhooks.Dispatch(ctx, event, payload, tenantID)
}

// IsAllowed consumes one request from the sliding window. Store failures
// admit the request.
func (in *Integrations) IsAllowed(ctx context.Context, key, identifier string, maxRequests int, window time.Duration) bool {
	return in.Limiter.IsAllowed(ctx, key, identifier, maxRequests, window)
}

func (in *Integrations) ValidateAccessToken(ctx context.Context, token string) (oauth.Claims, bool, error) {
	return in.OAuth.ValidateAccessToken(ctx, token)
}

// RateLimitMiddleware guards an http.Handler with the sliding window limiter.
func (in *Integrations) RateLimitMiddleware(cfg ratelimit.MiddlewareConfig) func(http.Handler) http.Handler {
	return ratelimit.Middleware(in.Limiter, cfg)
}

// OAuthHandler builds the /oauth HTTP surface. users resolves the signed-in
// resource owner for authorize requests.
func (in *Integrations) OAuthHandler(users httpapi.UserResolver, opts ...httpapi.Option) (*httpapi.Handler, error) {
	base := []httpapi.Option{
		httpapi.WithLogger(in.Loggers.OAuth),
		httpapi.WithMetricsRecorder(in.metrics),
	}
	return httpapi.NewHandler(in.OAuth, users, append(base, opts...)...)
}

// NewWebhookWorker builds a go-job worker that runs queued dispatches.
func (in *Integrations) NewWebhookWorker(dequeuer queue.Dequeuer, policy gojob.RetryPolicy) *gojob.WebhookWorker {
	hook := gojob.NewLoggingHook(core.NewObserver(in.Loggers.Jobs, in.metrics, "integrations"))
	return gojob.NewWebhookWorker(dequeuer, in.Webhooks, policy, hook)
}

// NewReceiver builds an inbound endpoint for deliveries signed with secret.
// Delivery claims share the configured KV backend.
func (in *Integrations) NewReceiver(secret string, opts ...inbound.Option) (*inbound.Dispatcher, error) {
	base := []inbound.Option{
		inbound.WithHeaderPrefix(in.Config.Webhooks.HeaderPrefix),
		inbound.WithLogger(in.Loggers.Webhooks),
		inbound.WithMetricsRecorder(in.metrics),
	}
	claims := inbound.NewKVClaimStore(in.kv)
	claims.Prefix = in.Config.ServiceName + ":inbound"
	return inbound.NewSignedDispatcher(secret, claims, append(base, opts...)...)
}

// Close releases command subscriptions and connections opened by New.
func (in *Integrations) Close() error {
	if in == nil {
		return nil
	}
	in.commands.unsubscribe()
	in.queries.unsubscribe()
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	in.closers = nil
	return errors.Join(errs...)
}
