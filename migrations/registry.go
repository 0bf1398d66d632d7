package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/data"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootPath = "sql/migrations"
)

// Tables are created by the embedded schema, in creation order.
var Tables = []string{"oauth_clients", "webhook_subscriptions", "integration_kv"}

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

// DialectForDriver maps a storage.driver value to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case core.StorageDriverSQLite, DialectSQLite:
		return DialectSQLite, nil
	case core.StorageDriverPostgres:
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: no schema for storage driver %q", driver)
	}
}

// Filesystems returns the postgres and sqlite migration sets. An optional
// source replaces the embedded data filesystem; it must hold sql/migrations.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := data.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: rootPath + "/" + DialectSQLite, FS: sqliteFS},
	}
	for _, fsys := range filesystems {
		matches, globErr := fs.Glob(fsys.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", fsys.Dialect, fsys.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", fsys.Dialect, fsys.Path)
		}
	}
	return filesystems, nil
}

// Register hands each requested dialect's migrations to registerFn. With no
// dialects every embedded set is registered.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	targets := normalize(dialects)
	if len(targets) == 0 {
		targets = []string{DialectPostgres, DialectSQLite}
	}
	filesystems, err := Filesystems()
	if err != nil {
		return err
	}

	registered := 0
	for _, fsys := range filesystems {
		if !slices.Contains(targets, fsys.Dialect) {
			continue
		}
		if err := registerFn(ctx, fsys.Dialect, fsys.FS); err != nil {
			return fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
		registered++
	}
	if registered != len(targets) {
		return fmt.Errorf("migrations: unknown dialect in %v", targets)
	}
	return nil
}

func normalize(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(strings.ToLower(value))
		if value == "" || slices.Contains(out, value) {
			continue
		}
		out = append(out, value)
	}
	return out
}
