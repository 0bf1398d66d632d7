// Package data embeds the SQL schema shipped with the relational stores.
package data

import (
	"embed"
	"io/fs"
)

// migrationsFS holds postgres migrations under sql/migrations with sqlite
// variants under sql/migrations/sqlite.
//
//go:embed sql/migrations/*.sql sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
