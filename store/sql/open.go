package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	integrationmigrations "github.com/goliatone/go-integrations/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type persistenceConfig struct {
	cfg core.StorageConfig
}

func (c persistenceConfig) GetDebug() bool                { return c.cfg.Debug }
func (c persistenceConfig) GetDriver() string             { return c.cfg.Driver }
func (c persistenceConfig) GetServer() string             { return c.cfg.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return c.cfg.PingTimeoutDuration() }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-integrations" }

// Open connects to the configured sqlite3 or postgres database and, when
// migrate is set, applies the embedded schema for that dialect.
func Open(ctx context.Context, cfg core.StorageConfig, migrate bool) (*persistence.Client, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var dialect schema.Dialect
	switch driver {
	case core.StorageDriverSQLite:
		dialect = sqlitedialect.New()
	case core.StorageDriverPostgres:
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	migrationDialect, err := integrationmigrations.DialectForDriver(driver)
	if err != nil {
		return nil, err
	}
	cfg.Driver = driver

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, core.StoreError("open", err)
	}
	if driver == core.StorageDriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, core.StoreError("open", err)
	}
	if !migrate {
		return client, nil
	}

	err = integrationmigrations.Register(ctx, func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrationDialect)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, core.StoreError("migrate", err)
	}
	return client, nil
}
