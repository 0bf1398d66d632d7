package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"
	integrationmigrations "github.com/goliatone/go-integrations/migrations"
	"github.com/goliatone/go-integrations/oauth"
	"github.com/goliatone/go-integrations/security"
	sqlstore "github.com/goliatone/go-integrations/store/sql"
	"github.com/goliatone/go-integrations/webhooks"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-integrations-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"oauth_clients", "webhook_subscriptions", "integration_kv"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestClientStore_HashesSecretsAndUpserts(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.ClientStore()

	if err := store.SaveClient(ctx, oauth.Client{
		ClientID:     "app1",
		Name:         "App One",
		ClientSecret: "s3cret",
		RedirectURIs: []string{"https://app1.example/cb"},
		Scopes:       []string{"read", "write"},
		IsActive:     true,
	}); err != nil {
		t.Fatalf("save client: %v", err)
	}

	stored, found, err := store.GetClient(ctx, "app1")
	if err != nil || !found {
		t.Fatalf("get client: found=%v err=%v", found, err)
	}
	if stored.ClientSecret != "" {
		t.Fatalf("expected plaintext secret not to round-trip")
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.SecretHash), []byte("s3cret")) != nil {
		t.Fatalf("expected bcrypt hash of the secret")
	}
	if !oauth.SecretMatches(stored, "s3cret") || oauth.SecretMatches(stored, "wrong") {
		t.Fatalf("expected hash to match only the original secret")
	}
	if !stored.AllowsRedirect("https://app1.example/cb") || len(stored.Scopes) != 2 {
		t.Fatalf("unexpected stored client %+v", stored)
	}

	stored.IsActive = false
	if err := store.SaveClient(ctx, stored); err != nil {
		t.Fatalf("update client: %v", err)
	}
	updated, _, err := store.GetClient(ctx, "app1")
	if err != nil {
		t.Fatalf("get updated: %v", err)
	}
	if updated.IsActive {
		t.Fatalf("expected client to be deactivated")
	}
	if !updated.CreatedAt.Equal(stored.CreatedAt) {
		t.Fatalf("expected created_at to survive an update")
	}

	if _, found, err := store.GetClient(ctx, "missing"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}
	clients, err := store.ListClients(ctx)
	if err != nil || len(clients) != 1 {
		t.Fatalf("list clients: %d %v", len(clients), err)
	}
}

func TestSubscriptionStore_EncryptsSecretAndFilters(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	secrets, err := security.NewAppKeySecretProviderFromString("test-app-key")
	if err != nil {
		t.Fatalf("secret provider: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSecretProvider(secrets))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.SubscriptionStore()
	if store == nil {
		t.Fatalf("expected subscription store when a secret provider is configured")
	}

	paid, err := store.Create(ctx, sqlstore.CreateSubscriptionInput{
		TargetURL:        "https://hooks.example/paid",
		Secret:           "whsec_paid",
		SubscribedEvents: []string{"invoice.paid"},
		TenantID:         "tenant-a",
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if _, err := store.Create(ctx, sqlstore.CreateSubscriptionInput{
		TargetURL:        "https://hooks.example/all",
		Secret:           "whsec_all",
		SubscribedEvents: []string{"*"},
		TenantID:         "tenant-b",
	}); err != nil {
		t.Fatalf("create wildcard subscription: %v", err)
	}

	var raw []byte
	if err := client.DB().NewRaw(
		"SELECT secret_ciphertext FROM webhook_subscriptions WHERE id = ?", paid.ID,
	).Scan(ctx, &raw); err != nil {
		t.Fatalf("read raw secret: %v", err)
	}
	if string(raw) == "whsec_paid" || len(raw) == 0 {
		t.Fatalf("expected secret to be encrypted at rest")
	}

	eligible, err := store.ListDeliverable(ctx, "invoice.paid", "tenant-a")
	if err != nil {
		t.Fatalf("list deliverable: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != paid.ID || eligible[0].Secret != "whsec_paid" {
		t.Fatalf("unexpected tenant-a subscriptions %+v", eligible)
	}
	all, err := store.ListDeliverable(ctx, "invoice.paid", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected both subscriptions without a tenant filter, got %d %v", len(all), err)
	}

	paid.Status = webhooks.StatusInactive
	paid.ConsecutiveFailures = 10
	if err := store.Save(ctx, paid); err != nil {
		t.Fatalf("save: %v", err)
	}
	eligible, err = store.ListDeliverable(ctx, "invoice.paid", "tenant-a")
	if err != nil || len(eligible) != 0 {
		t.Fatalf("expected inactive subscription to be excluded, got %d %v", len(eligible), err)
	}
	reloaded, found, err := store.Get(ctx, paid.ID)
	if err != nil || !found {
		t.Fatalf("get: %v %v", found, err)
	}
	if reloaded.ConsecutiveFailures != 10 || reloaded.Status != webhooks.StatusInactive {
		t.Fatalf("unexpected reloaded subscription %+v", reloaded)
	}
}

func TestSubscriptionStore_BacksDispatcherHealth(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	secrets, _ := security.NewAppKeySecretProviderFromString("test-app-key")
	store, err := sqlstore.NewSubscriptionStore(client.DB(), secrets)
	if err != nil {
		t.Fatalf("new subscription store: %v", err)
	}
	sub, err := store.Create(ctx, sqlstore.CreateSubscriptionInput{
		TargetURL:        "https://hooks.example/x",
		Secret:           "whsec",
		SubscribedEvents: []string{"ping"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dispatcher, err := webhooks.NewDispatcher(store)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	for i := 0; i < core.DefaultFailingAfterFailures; i++ {
		if _, err := dispatcher.RecordFailure(ctx, sub, 500); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	failing, _, _ := store.Get(ctx, sub.ID)
	if failing.Status != webhooks.StatusFailing || failing.LastResponseCode != 500 {
		t.Fatalf("expected failing status after threshold, got %+v", failing)
	}
	recovered, err := dispatcher.RecordSuccess(ctx, sub, 200)
	if err != nil {
		t.Fatalf("record success: %v", err)
	}
	if recovered.Status != webhooks.StatusActive || recovered.TotalDeliveries != 1 {
		t.Fatalf("unexpected recovered subscription %+v", recovered)
	}
}

func TestKVStore_TTLAndCounters(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	clock := core.NewFixedClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	store, err := sqlstore.NewKVStore(client.DB(), sqlstore.WithKVClock(clock))
	if err != nil {
		t.Fatalf("new kv store: %v", err)
	}

	if err := store.Set(ctx, "oauth_code:abc", []byte(`{"user_id":"u1"}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, found, err := store.Get(ctx, "oauth_code:abc")
	if err != nil || !found || string(value) != `{"user_id":"u1"}` {
		t.Fatalf("get: %q %v %v", value, found, err)
	}
	if err := store.Set(ctx, "oauth_code:abc", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _, _ = store.Get(ctx, "oauth_code:abc")
	if string(value) != "v2" {
		t.Fatalf("expected overwrite, got %q", value)
	}

	clock.Advance(61 * time.Second)
	if _, found, err := store.Get(ctx, "oauth_code:abc"); err != nil || found {
		t.Fatalf("expected expired key to be invisible, found=%v err=%v", found, err)
	}
	purged, err := store.PurgeExpired(ctx)
	if err != nil || purged != 1 {
		t.Fatalf("purge: %d %v", purged, err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "ratelimit:strict:api:u1", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("expected counter %d, got %d", want, got)
		}
	}
	clock.Advance(2 * time.Minute)
	if got, err := store.Increment(ctx, "ratelimit:strict:api:u1", time.Minute); err != nil || got != 1 {
		t.Fatalf("expected expired counter to restart at 1, got %d %v", got, err)
	}

	if err := store.Delete(ctx, "ratelimit:strict:api:u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := store.Get(ctx, "ratelimit:strict:api:u1"); found {
		t.Fatalf("expected deleted key to be gone")
	}
}

func TestKVStore_BacksOAuthServer(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	server, err := oauth.NewKVServer(factory.ClientStore(), factory.KVStore(), oauth.WithServerSecret("server-secret"))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	registered, secret, err := server.RegisterClient(ctx, oauth.RegisterClientInput{
		ClientID:     "partner",
		Name:         "Partner",
		RedirectURIs: []string{"https://partner.example/cb"},
		Scopes:       []string{"read"},
	})
	if err != nil {
		t.Fatalf("register client: %v", err)
	}

	code, err := server.GenerateAuthorizationCode(ctx, registered, "user-1", []string{"read"})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	bundle, err := server.ExchangeCode(ctx, code, "partner", secret)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	claims, ok, err := server.ValidateAccessToken(ctx, bundle.AccessToken)
	if err != nil || !ok || claims.UserID != "user-1" {
		t.Fatalf("validate: %+v %v %v", claims, ok, err)
	}
	if _, err := server.ExchangeCode(ctx, code, "partner", secret); err == nil {
		t.Fatalf("expected replayed code to fail")
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:integrations-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = integrationmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != integrationmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, integrationmigrations.WithValidationTargets(integrationmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func TestOpen_SQLiteAppliesMigrations(t *testing.T) {
	ctx := context.Background()
	client, err := sqlstore.Open(ctx, core.StorageConfig{
		Driver: "SQLite3",
		DSN:    fmt.Sprintf("file:integrations-open-%d?mode=memory&cache=shared", time.Now().UnixNano()),
	}, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = client.Close() }()

	exists, err := client.DB().NewSelect().
		Table("sqlite_master").
		Where("type = 'table'").
		Where("name = ?", "integration_kv").
		Exists(ctx)
	if err != nil {
		t.Fatalf("query schema: %v", err)
	}
	if !exists {
		t.Fatalf("expected integration_kv table after migrate")
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	if _, err := sqlstore.Open(context.Background(), core.StorageConfig{Driver: "mysql", DSN: "x"}, false); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
