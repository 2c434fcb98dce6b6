// Package database provides the SQLite connection used by the register
// store's durable backend.
//
// This package manages:
//   - Opening the database file with busy timeout, journal and sync pragmas
//   - Versioned schema migrations read from an fs.FS
//   - Connection lifecycle and health checks
//
// The register store relies on every committed transaction being durable, so
// Synchronous defaults to FULL and may be raised to EXTRA. NORMAL and OFF
// are rejected: under WAL they can lose acknowledged commits on power loss.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, database.MigrationSource{FS: migrations.SQLite, Dir: "."}); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
