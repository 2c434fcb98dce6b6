// Package migrations embeds the SQL schema of the register store so the
// binary can create or upgrade its database without files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/database"
)

//go:embed *.sql
var sqliteFS embed.FS

// SQLite is the migration source for the register database.
var SQLite = database.MigrationSource{FS: sqliteFS, Dir: "."}
